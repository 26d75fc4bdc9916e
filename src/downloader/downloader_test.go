package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/integrity"
	"github.com/embercore/launcher-core/src/logging"
	"github.com/embercore/launcher-core/src/manifest"
)

func TestNeedsFetchMissingFile(t *testing.T) {
	assert.True(t, needsFetch(filepath.Join(t.TempDir(), "absent"), "abc", 3))
}

func TestNeedsFetchMatchingHashSkips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	sum, _, err := integrity.Digest(mustOpen(t, path), integrity.SHA1)
	require.NoError(t, err)

	assert.False(t, needsFetch(path, sum, 5))
}

func TestNeedsFetchNoHashChecksExistenceOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	assert.False(t, needsFetch(path, "", 0))
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExecutorDownloadsAndVerifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "lib.jar")
	sum, _, err := integrity.Digest(strings.NewReader("payload"), integrity.SHA1)
	require.NoError(t, err)

	exec := NewExecutor(httpclient.New(), events.New(), logging.Nop(), 4)
	err = exec.Run(context.Background(), []FetchTask{
		{URL: srv.URL, Destination: dest, ExpectedSHA1: sum, ExpectedSize: 7, Role: RoleLibrary},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestExecutorLeavesMismatchedTempFileAndFailsDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "lib.jar")

	exec := NewExecutor(httpclient.New(), events.New(), logging.Nop(), 4)
	err := exec.Run(context.Background(), []FetchTask{
		{URL: srv.URL, Destination: dest, ExpectedSHA1: "0000000000000000000000000000000000000000", ExpectedSize: 9, Role: RoleLibrary},
	})
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination must not be written on mismatch")

	kept, err := filepath.Glob(filepath.Join(dir, "*.mismatch"))
	require.NoError(t, err)
	assert.Len(t, kept, 1, "mismatched temp file must be kept beside the destination")
}

func TestExecutorEmitsDownloadProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	emitter := events.New()
	var progressed []Progress
	emitter.On(events.DownloadProgress, func(data any) {
		progressed = append(progressed, data.(Progress))
	})

	exec := NewExecutor(httpclient.New(), emitter, logging.Nop(), 4)
	err := exec.Run(context.Background(), []FetchTask{
		{URL: srv.URL, Destination: filepath.Join(dir, "a"), Role: RoleAsset},
	})
	require.NoError(t, err)
	require.NotEmpty(t, progressed)
	last := progressed[len(progressed)-1]
	assert.Equal(t, 1, last.Completed)
}

func TestPlanDeduplicatesByDestination(t *testing.T) {
	dir := t.TempDir()
	paths := config.NewPaths(dir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"objects":{}}`))
	}))
	defer srv.Close()

	profile := &manifest.ResolvedProfile{
		VersionID: "1.20.1",
		Libraries: []manifest.ResolvedLibrary{
			{Coordinate: "com.mojang:a:1.0", LocalPath: filepath.Join(dir, "a.jar"), RemoteURL: "http://example/a.jar"},
			{Coordinate: "com.mojang:a:1.0", LocalPath: filepath.Join(dir, "a.jar"), RemoteURL: "http://example/a.jar"},
		},
		AssetIndex: manifest.AssetIndexRef{ID: "1.20", URL: srv.URL},
		ClientJar:  manifest.FileRef{},
	}

	tasks, err := Plan(context.Background(), httpclient.New(), profile, paths)
	require.NoError(t, err)

	libTasks := 0
	for _, task := range tasks {
		if task.Role == RoleLibrary {
			libTasks++
		}
	}
	assert.Equal(t, 1, libTasks, "duplicate destinations must collapse to a single task")
}
