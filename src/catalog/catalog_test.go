package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/logging"
	"github.com/embercore/launcher-core/src/process"
)

func testCatalog(t *testing.T) (*Catalog, *config.Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := config.NewPaths(dir)
	sup := process.New(events.New(), logging.Nop())
	return New(paths, sup), paths
}

func TestCreateInstanceWritesSubtreeAndConfig(t *testing.T) {
	cat, paths := testCatalog(t)

	cfg := InstanceConfig{InstanceName: "Survival", VanillaVersion: "1.20.1", ModloaderType: ModloaderNone}
	require.NoError(t, cat.CreateInstance(cfg, nil))

	for _, sub := range []string{
		paths.InstanceGameDir("Survival"),
		paths.InstanceLogsDir("Survival"),
		paths.InstanceScreenshotsDir("Survival"),
		paths.InstanceNativesDir("Survival"),
	} {
		info, err := os.Stat(sub)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	body, err := os.ReadFile(paths.InstanceConfigFile("Survival"))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"instance_name": "Survival"`)
}

func TestCreateInstanceRejectsCollision(t *testing.T) {
	cat, _ := testCatalog(t)
	cfg := InstanceConfig{InstanceName: "Dup", VanillaVersion: "1.20.1"}
	require.NoError(t, cat.CreateInstance(cfg, nil))

	err := cat.CreateInstance(cfg, nil)
	require.Error(t, err)
	assert.True(t, launchererr.IsKind(err, launchererr.AlreadyExists))
}

func TestLoadInstancesSortsNaturally(t *testing.T) {
	cat, _ := testCatalog(t)
	for _, name := range []string{"World10", "World2", "World1"} {
		require.NoError(t, cat.CreateInstance(InstanceConfig{InstanceName: name, CreatedAt: time.Now()}, nil))
	}

	configs, err := cat.LoadInstances()
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Equal(t, []string{"World1", "World2", "World10"}, []string{configs[0].InstanceName, configs[1].InstanceName, configs[2].InstanceName})
}

func TestLoadInstancesSkipsUnparsableEntries(t *testing.T) {
	cat, paths := testCatalog(t)
	require.NoError(t, cat.CreateInstance(InstanceConfig{InstanceName: "Good"}, nil))

	broken := paths.InstanceDir("Broken")
	require.NoError(t, config.EnsureDir(broken))
	require.NoError(t, os.WriteFile(paths.InstanceConfigFile("Broken"), []byte("not json"), 0o644))

	configs, err := cat.LoadInstances()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "Good", configs[0].InstanceName)
}

func TestGetScreenshotsSortsDescendingByFilename(t *testing.T) {
	cat, paths := testCatalog(t)
	require.NoError(t, cat.CreateInstance(InstanceConfig{InstanceName: "Shots"}, nil))

	dir := paths.InstanceScreenshotsDir("Shots")
	for _, name := range []string{"2024-01-01_10.00.00.png", "2024-01-02_10.00.00.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{}, 0o644))
	}

	shots, err := cat.GetScreenshots("Shots")
	require.NoError(t, err)
	require.Len(t, shots, 2)
	assert.Contains(t, shots[0], "2024-01-02")
	assert.Contains(t, shots[1], "2024-01-01")
}

func TestReadLogLinesFromRotatedFile(t *testing.T) {
	cat, paths := testCatalog(t)
	require.NoError(t, cat.CreateInstance(InstanceConfig{InstanceName: "Logged"}, nil))

	logsDir := paths.InstanceLogsDir("Logged")
	require.NoError(t, os.WriteFile(filepath.Join(logsDir, "2024-01-01T00-00-00Z.log"), []byte("[main/ERROR]: boom\n"), 0o644))

	lines, err := cat.ReadLogLines("Logged", "2024-01-01T00-00-00Z")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, process.LineError, lines[0].Kind)
}

func TestReadLogLinesRunningRequiresLiveInstance(t *testing.T) {
	cat, _ := testCatalog(t)
	_, err := cat.ReadLogLines("NotRunning", "running")
	assert.Error(t, err)
}

func TestNaturalLessOrdersDigitRunsNumerically(t *testing.T) {
	assert.True(t, naturalLess("item2", "item10"))
	assert.False(t, naturalLess("item10", "item2"))
	assert.True(t, naturalLess("alpha", "beta"))
}
