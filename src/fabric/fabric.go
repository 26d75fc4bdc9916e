// Package fabric implements the Fabric modloader overlay: fetching the
// Fabric loader profile for a (vanilla, loader) pair and merging it
// onto the vanilla descriptor the same way any other inheritsFrom
// child is merged.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
)

// loaderProfileURLFmt: the Fabric meta server publishes a profile JSON
// shaped exactly like a Mojang VersionDescriptor with inheritsFrom set
// to the vanilla id.
const loaderProfileURLFmt = "https://meta.fabricmc.net/v2/versions/loader/%s/%s/profile/json"

// Installer resolves Fabric overlays onto vanilla descriptors.
type Installer struct {
	http  *httpclient.Client
	paths *config.Paths
	log   *zap.SugaredLogger
}

// New builds a Fabric Installer.
func New(http *httpclient.Client, paths *config.Paths, log *zap.SugaredLogger) *Installer {
	return &Installer{http: http, paths: paths, log: log}
}

// loaderListURLFmt lists every loader build published for a given
// Minecraft version, per the Fabric meta server's v2 API.
const loaderListURLFmt = "https://meta.fabricmc.net/v2/versions/loader/%s"

// ListLoaderVersions returns every published Fabric loader version for
// mcVersion, newest first, for obtain_manifests' fabric_versions field.
func (i *Installer) ListLoaderVersions(ctx context.Context, mcVersion string) ([]string, error) {
	url := fmt.Sprintf(loaderListURLFmt, mcVersion)
	body, err := i.http.GetJSON(ctx, url)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "list fabric loader versions", err)
	}

	return parseLoaderVersionList(body)
}

func parseLoaderVersionList(body []byte) ([]string, error) {
	var entries []struct {
		Loader struct {
			Version string `json:"version"`
		} `json:"loader"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse fabric loader version list", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		versions = append(versions, entry.Loader.Version)
	}
	return versions, nil
}

// FetchLoaderProfile downloads the Fabric loader profile JSON for the
// given (vanilla, loader) pair.
func (i *Installer) FetchLoaderProfile(ctx context.Context, mcVersion, loaderVersion string) (*manifest.VersionDescriptor, error) {
	url := fmt.Sprintf(loaderProfileURLFmt, mcVersion, loaderVersion)
	body, err := i.http.GetJSON(ctx, url)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "fetch fabric loader profile", err)
	}

	var desc manifest.VersionDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse fabric loader profile", err)
	}
	return &desc, nil
}

// Install fetches the Fabric loader profile, merges it onto vanilla,
// and caches the merged descriptor to versions/<fabric-id>/<fabric-id>.json:
// fetch-loader, merge, persist (vanilla arrives already resolved), minus the actual file
// downloads, which the generic downloader package performs afterward
// against the resulting ResolvedProfile.
func (i *Installer) Install(ctx context.Context, vanilla *manifest.VersionDescriptor, mcVersion, loaderVersion string) (*manifest.VersionDescriptor, error) {
	i.log.Infow("installing fabric overlay", "vanilla", mcVersion, "loader", loaderVersion)

	profile, err := i.FetchLoaderProfile(ctx, mcVersion, loaderVersion)
	if err != nil {
		return nil, err
	}
	return i.installMerged(vanilla, profile)
}

// installMerged merges profile onto vanilla and persists the result,
// split out from Install so the merge/persist behavior is testable
// without a live Fabric meta server.
func (i *Installer) installMerged(vanilla, profile *manifest.VersionDescriptor) (*manifest.VersionDescriptor, error) {
	if profile.ID == "" {
		return nil, launchererr.New(launchererr.Schema, "fabric loader profile missing id")
	}

	merged := manifest.MergeDescriptors(profile, vanilla)

	versionDir := filepath.Join(i.paths.VersionsDir(), merged.ID)
	if err := config.EnsureDir(versionDir); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "create fabric version dir", err)
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "marshal merged fabric descriptor", err)
	}
	if err := os.WriteFile(filepath.Join(versionDir, merged.ID+".json"), data, config.FilePermission); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "write fabric version descriptor", err)
	}

	i.log.Infow("fabric overlay installed", "id", merged.ID)
	return merged, nil
}
