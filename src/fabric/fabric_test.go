package fabric

import (
	"context"
	"encoding/json"
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
	"github.com/embercore/launcher-core/src/manifest"
)

func fetchFromServer(t *testing.T, url string) *manifest.VersionDescriptor {
	t.Helper()
	i := &Installer{http: httpclient.New(), log: logging.Nop()}
	body, err := i.http.GetJSON(context.Background(), url)
	require.NoError(t, err)
	var desc manifest.VersionDescriptor
	require.NoError(t, json.Unmarshal(body, &desc))
	return &desc
}

func TestInstallMergesOntoVanillaAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		desc := manifest.VersionDescriptor{
			ID:           "fabric-loader-0.14.21-1.20.1",
			InheritsFrom: "1.20.1",
			MainClass:    "net.fabricmc.loader.impl.launch.knot.KnotClient",
			Libraries: []manifest.Library{
				{Name: "net.fabricmc:fabric-loader:0.14.21"},
			},
		}
		json.NewEncoder(w).Encode(desc)
	}))
	defer srv.Close()

	i := &Installer{http: httpclient.New(), paths: config.NewPaths(t.TempDir()), log: logging.Nop()}

	vanilla := &manifest.VersionDescriptor{
		ID:        "1.20.1",
		MainClass: "net.minecraft.client.main.Main",
		Libraries: []manifest.Library{{Name: "com.mojang:vanilla:1.0"}},
	}

	profile := fetchFromServer(t, srv.URL)
	merged, err := i.installMerged(vanilla, profile)
	require.NoError(t, err)

	require.Equal(t, "fabric-loader-0.14.21-1.20.1", merged.ID)
	require.Len(t, merged.Libraries, 2)
	assert.Equal(t, "com.mojang:vanilla:1.0", merged.Libraries[0].Name)
	assert.Equal(t, "net.fabricmc:fabric-loader:0.14.21", merged.Libraries[1].Name)

	versionDir := filepath.Join(i.paths.VersionsDir(), merged.ID)
	written, err := os.ReadFile(filepath.Join(versionDir, merged.ID+".json"))
	require.NoError(t, err)
	var roundTrip manifest.VersionDescriptor
	require.NoError(t, json.Unmarshal(written, &roundTrip))
	assert.Equal(t, merged.MainClass, roundTrip.MainClass)
}

func TestParseLoaderVersionListExtractsVersionsInOrder(t *testing.T) {
	body := []byte(`[{"loader":{"version":"0.14.22"}},{"loader":{"version":"0.14.21"}}]`)
	versions, err := parseLoaderVersionList(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.14.22", "0.14.21"}, versions)
}

func TestInstallMergedRejectsMissingID(t *testing.T) {
	i := &Installer{http: httpclient.New(), paths: config.NewPaths(t.TempDir()), log: logging.Nop()}
	vanilla := &manifest.VersionDescriptor{ID: "1.20.1"}
	profile := &manifest.VersionDescriptor{MainClass: "x"}

	_, err := i.installMerged(vanilla, profile)
	assert.Error(t, err)
}
