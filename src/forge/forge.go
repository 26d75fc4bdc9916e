// Package forge installs the Forge modloader overlay: downloads the
// installer jar, extracts its embedded library tree, merges its version
// document onto vanilla, and runs its install processors exactly once
// per (minecraft version, forge version) pair.
package forge

import (
	"archive/zip"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"go.uber.org/zap"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
)

const installerURLFmt = "https://maven.minecraftforge.net/net/minecraftforge/forge/%s-%s/forge-%s-%s-installer.jar"

// mavenMetadataURL is Forge's Maven metadata listing every published
// "<mcVersion>-<forgeVersion>" artifact version, used to answer
// obtain_manifests' forge_versions field.
const mavenMetadataURL = "https://maven.minecraftforge.net/net/minecraftforge/forge/maven-metadata.xml"

// ListVersions returns every published Forge build, grouped by the
// vanilla Minecraft version it targets.
func (in *Installer) ListVersions(ctx context.Context) (map[string][]string, error) {
	body, err := in.http.GetJSON(ctx, mavenMetadataURL)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "fetch forge maven metadata", err)
	}
	return parseMavenMetadata(body)
}

type mavenMetadata struct {
	Versioning struct {
		Versions struct {
			Version []string `xml:"version"`
		} `xml:"versions"`
	} `xml:"versioning"`
}

// parseMavenMetadata splits Forge's "<mcVersion>-<forgeVersion>"
// artifact version strings into the vanilla_id → [forge versions]
// mapping the command surface expects.
func parseMavenMetadata(body []byte) (map[string][]string, error) {
	var meta mavenMetadata
	if err := xml.Unmarshal(body, &meta); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse forge maven metadata", err)
	}

	byVanilla := make(map[string][]string)
	for _, v := range meta.Versioning.Versions.Version {
		mcVersion, forgeVersion, ok := strings.Cut(v, "-")
		if !ok {
			continue
		}
		byVanilla[mcVersion] = append(byVanilla[mcVersion], forgeVersion)
	}
	return byVanilla, nil
}

// completionMarker is written once all processors for a (vanilla,
// forge) pair have run successfully, so a later Install call is a
// cache hit rather than a re-run.
const completionMarker = ".installed"

// Installer drives a single Forge overlay install.
type Installer struct {
	http *httpclient.Client
	log  *zap.SugaredLogger
}

// New builds an Installer.
func New(http *httpclient.Client, log *zap.SugaredLogger) *Installer {
	return &Installer{http: http, log: log}
}

// installerArchive wraps an opened installer jar plus the two JSON
// documents pulled out of it.
type installerArchive struct {
	zip         *zip.Reader
	file        *os.File
	installJSON *gabs.Container
	versionJSON *gabs.Container
	isLegacy    bool
}

// Install downloads and applies the Forge overlay for (mcVersion,
// forgeVersion) onto vanilla, returning the merged descriptor. Safe to
// call repeatedly: a prior successful install for the same pair is
// detected via completionMarker and short-circuits straight to loading
// the cached merged descriptor.
func (in *Installer) Install(ctx context.Context, vanilla *manifest.VersionDescriptor, mcVersion, forgeVersion string, paths *config.Paths, javaPath string) (*manifest.VersionDescriptor, error) {
	forgeID := fmt.Sprintf("%s-forge-%s", mcVersion, forgeVersion)
	cacheDir := filepath.Join(paths.ForgeCacheDir(), forgeID)
	versionDir := filepath.Join(paths.VersionsDir(), forgeID)
	descriptorPath := filepath.Join(versionDir, forgeID+".json")

	if _, err := os.Stat(filepath.Join(cacheDir, completionMarker)); err == nil {
		return in.loadCachedDescriptor(descriptorPath)
	}

	if err := config.EnsureDir(cacheDir); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "create forge cache dir", err)
	}

	installerPath := filepath.Join(cacheDir, "installer.jar")
	url := fmt.Sprintf(installerURLFmt, mcVersion, forgeVersion, mcVersion, forgeVersion)
	if err := in.downloadInstaller(ctx, url, installerPath); err != nil {
		return nil, err
	}

	archive, err := openInstallerArchive(installerPath)
	if err != nil {
		return nil, err
	}
	defer archive.file.Close()

	forgeDesc, err := archive.versionDescriptor(forgeID)
	if err != nil {
		return nil, err
	}

	merged := manifest.MergeDescriptors(forgeDesc, vanilla)

	if err := in.installEmbeddedLibraries(archive, paths); err != nil {
		return nil, err
	}

	procDir := filepath.Join(cacheDir, "run")
	if err := config.EnsureDir(procDir); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "create processor run dir", err)
	}
	defer os.RemoveAll(procDir)

	if err := in.runProcessors(ctx, archive, paths, procDir, javaPath); err != nil {
		return nil, err
	}

	if err := config.EnsureDir(versionDir); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "create forge version dir", err)
	}
	body, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "marshal forge descriptor", err)
	}
	if err := os.WriteFile(descriptorPath, body, config.FilePermission); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "write forge descriptor", err)
	}

	if err := os.WriteFile(filepath.Join(cacheDir, completionMarker), []byte(forgeID), config.FilePermission); err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "write forge completion marker", err)
	}

	in.log.Infow("forge overlay installed", "forge_id", forgeID)
	return merged, nil
}

func (in *Installer) loadCachedDescriptor(path string) (*manifest.VersionDescriptor, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "read cached forge descriptor", err)
	}
	var desc manifest.VersionDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse cached forge descriptor", err)
	}
	return &desc, nil
}

// downloadInstaller streams the installer jar to dest, retrying a
// transient failure from scratch: Stream never rewinds or truncates its
// destination, so a retry against the same, already-partially-written
// file would corrupt it. Each attempt truncates dest via os.Create.
func (in *Installer) downloadInstaller(ctx context.Context, url, dest string) error {
	var lastErr error
	for attempt := 0; attempt < httpclient.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(httpclient.BackoffSchedule[attempt-1]):
			}
		}

		if err := in.attemptDownloadInstaller(ctx, url, dest); err != nil {
			lastErr = err
			var streamErr *httpclient.StreamError
			if errors.As(err, &streamErr) && !streamErr.Retriable {
				return launchererr.Wrap(launchererr.Network, "download forge installer", err)
			}
			continue
		}
		return nil
	}
	return launchererr.Wrap(launchererr.Network, "download forge installer: exhausted retries", lastErr)
}

func (in *Installer) attemptDownloadInstaller(ctx context.Context, url, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "create installer file", err)
	}
	defer f.Close()

	return in.http.Stream(ctx, url, f)
}

func openInstallerArchive(path string) (*installerArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "open forge installer", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, launchererr.Wrap(launchererr.Filesystem, "stat forge installer", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, launchererr.Wrap(launchererr.Schema, "open forge installer as zip", err)
	}

	archive := &installerArchive{zip: zr, file: f}

	installJSON, err := archive.readJSON("install_profile.json")
	if err != nil {
		f.Close()
		return nil, launchererr.Wrap(launchererr.Schema, "read install_profile.json", err)
	}
	archive.installJSON = installJSON

	if versionJSON, err := archive.readJSON("version.json"); err == nil {
		archive.versionJSON = versionJSON
		return archive, nil
	}

	if !installJSON.ExistsP("versionInfo") {
		f.Close()
		return nil, launchererr.New(launchererr.Schema, "forge installer has no version.json or versionInfo section")
	}
	archive.isLegacy = true
	archive.versionJSON = installJSON.Path("versionInfo")
	archive.installJSON = installJSON.Path("install")
	return archive, nil
}

func (a *installerArchive) readJSON(name string) (*gabs.Container, error) {
	raw, err := a.readFile(name)
	if err != nil {
		return nil, err
	}
	return gabs.ParseJSON(raw)
}

func (a *installerArchive) readFile(name string) ([]byte, error) {
	for _, f := range a.zip.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// versionDescriptor converts the installer's version document into a
// manifest.VersionDescriptor, fixing up the forge id in place (Forge's
// own id tends to repeat the vanilla version oddly).
func (a *installerArchive) versionDescriptor(forgeID string) (*manifest.VersionDescriptor, error) {
	a.versionJSON.SetP(forgeID, "id")
	var desc manifest.VersionDescriptor
	if err := json.Unmarshal([]byte(a.versionJSON.String()), &desc); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse forge version document", err)
	}
	return &desc, nil
}

// installEmbeddedLibraries extracts every install_profile.json library
// that has no direct download URL from the installer's embedded maven/
// tree into the shared libraries directory.
func (in *Installer) installEmbeddedLibraries(a *installerArchive, paths *config.Paths) error {
	libs, err := a.installJSON.Path("libraries").Children()
	if err != nil {
		return nil // no libraries section; nothing to do
	}

	for _, lib := range libs {
		name, _ := lib.Path("name").Data().(string)
		if name == "" {
			continue
		}
		artifactPath, err := manifest.ArtifactToPath(name)
		if err != nil {
			return launchererr.Wrap(launchererr.Schema, "resolve forge library path", err)
		}
		dest := filepath.Join(paths.LibrariesDir(), filepath.FromSlash(artifactPath))
		if _, err := os.Stat(dest); err == nil {
			continue // already installed
		}

		url, _ := lib.Path("downloads.artifact.url").Data().(string)
		if url != "" {
			continue // has a direct download URL; the downloader plans this separately
		}

		raw, err := a.readFile(path.Join("maven", artifactPath))
		if err != nil {
			in.log.Debugw("forge library not embedded, deferring to downloader", "name", name)
			continue
		}
		if err := config.EnsureDir(filepath.Dir(dest)); err != nil {
			return launchererr.Wrap(launchererr.Filesystem, "create library dir", err)
		}
		if err := os.WriteFile(dest, raw, config.FilePermission); err != nil {
			return launchererr.Wrap(launchererr.Filesystem, "write embedded forge library", err)
		}
	}
	return nil
}

// runProcessors runs every install_profile.json processor exactly
// once, in order, under runDir.
func (in *Installer) runProcessors(ctx context.Context, a *installerArchive, paths *config.Paths, runDir, javaPath string) error {
	processors, err := a.installJSON.Path("processors").Children()
	if err != nil || len(processors) == 0 {
		return nil
	}

	data, err := in.resolveDataSection(a, paths, runDir)
	if err != nil {
		return launchererr.Wrap(launchererr.InstallProcessor, "resolve processor data section", err)
	}

	for _, p := range processors {
		if err := in.runProcessor(ctx, p, paths, data, runDir, javaPath); err != nil {
			return err
		}
	}
	return nil
}

func (in *Installer) runProcessor(ctx context.Context, p *gabs.Container, paths *config.Paths, data map[string]string, runDir, javaPath string) error {
	jarRef, _ := p.Path("jar").Data().(string)
	jarPath, err := manifest.ArtifactToPath(jarRef)
	if err != nil {
		return launchererr.Wrap(launchererr.InstallProcessor, "resolve processor jar path", err)
	}
	processorJar := filepath.Join(paths.LibrariesDir(), filepath.FromSlash(jarPath))

	var classpathEntries []string
	if items, err := p.Path("classpath").Children(); err == nil {
		for _, item := range items {
			coord, _ := item.Data().(string)
			itemPath, err := manifest.ArtifactToPath(coord)
			if err != nil {
				return launchererr.Wrap(launchererr.InstallProcessor, "resolve processor classpath entry", err)
			}
			classpathEntries = append(classpathEntries, filepath.Join(paths.LibrariesDir(), filepath.FromSlash(itemPath)))
		}
	}
	classpathEntries = append(classpathEntries, processorJar)

	mainClass, err := mainClassOf(processorJar)
	if err != nil {
		return launchererr.Wrap(launchererr.InstallProcessor, "read processor main class", err)
	}

	args := []string{"-cp", strings.Join(classpathEntries, string(os.PathListSeparator)), mainClass}
	args = append(args, resolveProcessorArgs(p, paths, data)...)

	cmd := exec.CommandContext(ctx, javaPath, args...)
	cmd.Dir = runDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return launchererr.Wrap(launchererr.InstallProcessor, fmt.Sprintf("processor %s failed: %s", jarRef, out), err)
	}
	return nil
}

// resolveProcessorArgs expands a processor's args array: "{key}" pulls
// from the data section, "[coordinate]" resolves a library path,
// anything else is a literal.
func resolveProcessorArgs(p *gabs.Container, paths *config.Paths, data map[string]string) []string {
	items, err := p.Path("args").Children()
	if err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		s, _ := item.Data().(string)
		switch {
		case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
			out = append(out, data[strings.Trim(s, "{}")])
		case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
			coord := strings.Trim(s, "[]")
			if artifactPath, err := manifest.ArtifactToPath(coord); err == nil {
				out = append(out, filepath.Join(paths.LibrariesDir(), filepath.FromSlash(artifactPath)))
			}
		default:
			out = append(out, s)
		}
	}
	return out
}

// resolveDataSection expands install_profile.json's data section for
// the client side: artifact references ("[coord]"), literals ('quoted'),
// and installer-embedded files extracted to runDir.
func (in *Installer) resolveDataSection(a *installerArchive, paths *config.Paths, runDir string) (map[string]string, error) {
	entries, err := a.installJSON.Path("data").ChildrenMap()
	if err != nil || entries == nil {
		return map[string]string{}, nil
	}

	out := make(map[string]string, len(entries))
	for key, entry := range entries {
		value, _ := entry.Path("client").Data().(string)
		switch {
		case strings.HasPrefix(value, "["):
			coord := strings.Trim(value, "[]")
			artifactPath, err := manifest.ArtifactToPath(coord)
			if err != nil {
				return nil, err
			}
			out[key] = filepath.Join(paths.LibrariesDir(), filepath.FromSlash(artifactPath))
		case strings.HasPrefix(value, "'"):
			out[key] = strings.Trim(value, "'")
		default:
			extracted, err := a.extractToDir(strings.TrimPrefix(value, "/"), runDir)
			if err != nil {
				return nil, err
			}
			out[key] = extracted
		}
	}
	return out, nil
}

func (a *installerArchive) extractToDir(name, destDir string) (string, error) {
	raw, err := a.readFile(name)
	if err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, filepath.Base(name))
	if err := config.EnsureDir(filepath.Dir(destPath)); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, raw, config.FilePermission); err != nil {
		return "", err
	}
	return destPath, nil
}

// mainClassOf reads the Main-Class attribute out of a jar's manifest.
func mainClassOf(jarPath string) (string, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "META-INF/MANIFEST.MF" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(line, "Main-Class:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "Main-Class:")), nil
			}
		}
	}
	return "", fmt.Errorf("no Main-Class attribute in %s", jarPath)
}
