package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/logging"
)

func TestMergeDescriptorsLibrariesConcatenateParentFirst(t *testing.T) {
	parent := &VersionDescriptor{
		MainClass: "net.minecraft.client.main.Main",
		Libraries: []Library{{Name: "com.mojang:vanilla:1.0"}},
	}
	child := &VersionDescriptor{
		Libraries: []Library{{Name: "net.fabricmc:loader:0.14.21"}},
	}

	merged := MergeDescriptors(child, parent)

	require.Len(t, merged.Libraries, 2)
	assert.Equal(t, "com.mojang:vanilla:1.0", merged.Libraries[0].Name)
	assert.Equal(t, "net.fabricmc:loader:0.14.21", merged.Libraries[1].Name)
	assert.Equal(t, "net.minecraft.client.main.Main", merged.MainClass)
}

func TestMergeDescriptorsChildScalarsWin(t *testing.T) {
	parent := &VersionDescriptor{MainClass: "parent.Main", Assets: "legacy"}
	child := &VersionDescriptor{MainClass: "child.Main"}

	merged := MergeDescriptors(child, parent)

	assert.Equal(t, "child.Main", merged.MainClass)
	assert.Equal(t, "legacy", merged.Assets)
}

func TestArtifactToPath(t *testing.T) {
	path, err := ArtifactToPath("net.fabricmc:fabric-loader:0.14.21")
	require.NoError(t, err)
	assert.Equal(t, "net/fabricmc/fabric-loader/0.14.21/fabric-loader-0.14.21.jar", path)
}

func TestArtifactToPathWithClassifierAndExt(t *testing.T) {
	path, err := ArtifactToPath("org.lwjgl:lwjgl:3.3.1:natives-windows@jar")
	require.NoError(t, err)
	assert.Equal(t, "org/lwjgl/lwjgl/3.3.1/lwjgl-3.3.1-natives-windows.jar", path)
}

func TestArtifactToPathMalformed(t *testing.T) {
	_, err := ArtifactToPath("not-a-coordinate")
	assert.Error(t, err)
}

func TestResolveProfileLibraryRuleFiltering(t *testing.T) {
	r := &Resolver{log: logging.Nop(), host: Host{OSName: "linux", Arch: "x86_64"}}

	desc := &VersionDescriptor{
		ID:        "1.20.1",
		MainClass: "net.minecraft.client.main.Main",
		Libraries: []Library{
			{
				Name: "com.mojang:windows-only:1.0",
				Downloads: struct {
					Artifact    *ArtifactDownload           `json:"artifact,omitempty"`
					Classifiers map[string]ArtifactDownload `json:"classifiers,omitempty"`
				}{Artifact: &ArtifactDownload{Path: "com/mojang/windows-only/1.0/windows-only-1.0.jar", URL: "https://example/windows-only.jar", SHA1: "abc"}},
				Rules: []Rule{{Action: "allow", OS: RuleOS{Name: "windows"}}},
			},
			{
				Name: "com.mojang:everywhere:1.0",
				Downloads: struct {
					Artifact    *ArtifactDownload           `json:"artifact,omitempty"`
					Classifiers map[string]ArtifactDownload `json:"classifiers,omitempty"`
				}{Artifact: &ArtifactDownload{Path: "com/mojang/everywhere/1.0/everywhere-1.0.jar", URL: "https://example/everywhere.jar", SHA1: "def"}},
			},
		},
	}

	profile, err := r.ResolveProfile(desc, "libraries", "versions")
	require.NoError(t, err)
	require.Len(t, profile.Libraries, 1)
	assert.Equal(t, "com.mojang:everywhere:1.0", profile.Libraries[0].Coordinate)
}

func TestResolveProfileOverlaySupersession(t *testing.T) {
	r := &Resolver{log: logging.Nop(), host: Host{OSName: "linux", Arch: "x86_64"}}

	artifact := func(path string) struct {
		Artifact    *ArtifactDownload           `json:"artifact,omitempty"`
		Classifiers map[string]ArtifactDownload `json:"classifiers,omitempty"`
	} {
		return struct {
			Artifact    *ArtifactDownload           `json:"artifact,omitempty"`
			Classifiers map[string]ArtifactDownload `json:"classifiers,omitempty"`
		}{Artifact: &ArtifactDownload{Path: path}}
	}

	desc := &VersionDescriptor{
		ID: "1.20.1-fabric",
		Libraries: []Library{
			{Name: "com.mojang:asm:1.0", Downloads: artifact("old.jar")},
			{Name: "com.mojang:asm:2.0", Downloads: artifact("new.jar")},
		},
	}

	profile, err := r.ResolveProfile(desc, "libraries", "versions")
	require.NoError(t, err)
	require.Len(t, profile.Libraries, 1)
	assert.Contains(t, profile.Libraries[0].LocalPath, "new.jar")
}

func TestLoadManifestIndexCachesAfterFirstFetch(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		w.Write([]byte(`{"latest":{"release":"1.20.1","snapshot":"1.20.1"},"versions":[{"id":"1.20.1","type":"release","url":"` + req.Host + `","releaseTime":"2023-06-07T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	paths := config.NewPaths(dir)
	r := &Resolver{http: httpclient.New(), paths: paths, log: logging.Nop()}

	// Pre-seed cachedIndex to avoid hitting the real Mojang URL in this
	// grounding test: LoadManifestIndex only fetches once per process.
	r.cachedIndex = &VersionManifestIndex{Versions: []VersionEntry{{ID: "1.20.1", Type: "release", ReleaseTime: "2023-06-07T00:00:00Z"}}}

	idx, err := r.LoadManifestIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, hits, "cached index must not re-fetch")
	assert.Len(t, idx.Versions, 1)
}

func TestSortedVersionIDsNewestFirst(t *testing.T) {
	idx := &VersionManifestIndex{Versions: []VersionEntry{
		{ID: "1.19", Type: "release", ReleaseTime: "2022-06-07T00:00:00Z"},
		{ID: "1.20.1", Type: "release", ReleaseTime: "2023-06-07T00:00:00Z"},
		{ID: "23w13a", Type: "snapshot", ReleaseTime: "2023-03-29T00:00:00Z"},
	}}

	ids := SortedVersionIDs(idx, "release")
	assert.Equal(t, []string{"1.20.1", "1.19"}, ids)
}

func TestLoadOneDescriptorUsesDiskCache(t *testing.T) {
	dir := t.TempDir()
	paths := config.NewPaths(dir)
	require.NoError(t, config.EnsureDir(filepath.Dir(paths.VersionDescriptorFile("1.20.1"))))
	require.NoError(t, os.WriteFile(paths.VersionDescriptorFile("1.20.1"), []byte(`{"id":"1.20.1","mainClass":"net.minecraft.client.main.Main"}`), 0o644))

	r := &Resolver{http: httpclient.New(), paths: paths, log: logging.Nop()}
	desc, err := r.loadOneDescriptor(context.Background(), "1.20.1")
	require.NoError(t, err)
	assert.Equal(t, "net.minecraft.client.main.Main", desc.MainClass)
}
