package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/launchererr"
)

const vanillaManifestURL = "https://launchermeta.mojang.com/mc/game/version_manifest.json"

// Resolver fetches and caches version manifests/descriptors and
// produces ResolvedProfiles, per §4.1 of the specification.
type Resolver struct {
	http  *httpclient.Client
	paths *config.Paths
	log   *zap.SugaredLogger

	host Host

	cachedIndex *VersionManifestIndex
}

// New builds a Resolver for the current host platform.
func New(http *httpclient.Client, paths *config.Paths, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		http:  http,
		paths: paths,
		log:   log,
		host: Host{
			OSName: OSName(runtime.GOOS),
			Arch:   Arch(runtime.GOARCH),
		},
	}
}

// LoadManifestIndex returns the vanilla version manifest list, fetching
// and caching it once per process lifetime (step 1 of §4.1).
func (r *Resolver) LoadManifestIndex(ctx context.Context) (*VersionManifestIndex, error) {
	if r.cachedIndex != nil {
		return r.cachedIndex, nil
	}

	body, err := r.http.GetJSON(ctx, vanillaManifestURL)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "fetch version manifest", err)
	}

	var idx VersionManifestIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse version manifest", err)
	}

	r.cachedIndex = &idx
	return &idx, nil
}

// LoadVersionDescriptor fetches (or reads from the on-disk cache) the
// descriptor for id, resolving inheritsFrom recursively and merging
// parent into child per step 3 of §4.1.
func (r *Resolver) LoadVersionDescriptor(ctx context.Context, id string) (*VersionDescriptor, error) {
	desc, err := r.loadOneDescriptor(ctx, id)
	if err != nil {
		return nil, err
	}

	if desc.InheritsFrom == "" {
		return desc, nil
	}

	parent, err := r.LoadVersionDescriptor(ctx, desc.InheritsFrom)
	if err != nil {
		return nil, fmt.Errorf("load parent version %s: %w", desc.InheritsFrom, err)
	}

	return MergeDescriptors(desc, parent), nil
}

// loadOneDescriptor fetches a single descriptor without following
// inheritsFrom, using the disk cache at versions/<id>/<id>.json when
// present.
func (r *Resolver) loadOneDescriptor(ctx context.Context, id string) (*VersionDescriptor, error) {
	cachePath := r.paths.VersionDescriptorFile(id)
	if data, err := os.ReadFile(cachePath); err == nil {
		var desc VersionDescriptor
		if err := json.Unmarshal(data, &desc); err == nil {
			return &desc, nil
		}
	}

	idx, err := r.LoadManifestIndex(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := idx.ByID(id)
	if !ok {
		return nil, launchererr.New(launchererr.NotFound, fmt.Sprintf("unknown vanilla version %q", id))
	}

	body, err := r.http.GetJSON(ctx, entry.URL)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, fmt.Sprintf("fetch version descriptor %s", id), err)
	}

	var desc VersionDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, fmt.Sprintf("parse version descriptor %s", id), err)
	}

	if err := config.EnsureDir(filepath.Dir(cachePath)); err == nil {
		_ = os.WriteFile(cachePath, body, config.FilePermission)
	}

	return &desc, nil
}

// MergeDescriptors merges parent into child per §4.1 step 3: arrays
// concatenate (parent entries first), scalar fields from child win
// when present, mainClass from child wins when present. child is
// mutated and returned.
func MergeDescriptors(child, parent *VersionDescriptor) *VersionDescriptor {
	if child.MainClass == "" {
		child.MainClass = parent.MainClass
	}
	if child.MinecraftArguments == "" {
		child.MinecraftArguments = parent.MinecraftArguments
	}
	if child.AssetIndex.ID == "" {
		child.AssetIndex = parent.AssetIndex
	}
	if child.Assets == "" {
		child.Assets = parent.Assets
	}
	if child.JavaVersion == nil {
		child.JavaVersion = parent.JavaVersion
	}
	if child.Downloads.Client.URL == "" {
		child.Downloads.Client = parent.Downloads.Client
	}
	if child.Logging.Client.Argument == "" {
		child.Logging.Client = parent.Logging.Client
	}
	if child.ComplianceLevel == 0 {
		child.ComplianceLevel = parent.ComplianceLevel
	}

	merged := make([]Library, 0, len(parent.Libraries)+len(child.Libraries))
	merged = append(merged, parent.Libraries...)
	merged = append(merged, child.Libraries...)
	child.Libraries = merged

	child.Arguments.JVM = append(append([]RawArgToken{}, parent.Arguments.JVM...), child.Arguments.JVM...)
	child.Arguments.Game = append(append([]RawArgToken{}, parent.Arguments.Game...), child.Arguments.Game...)

	return child
}

// javaMajorFallback keys a best-effort major-version hint to release id
// prefixes, for older descriptors that omit javaVersion entirely.
// Grounded on dilllxd-theboys-launcher's PrismLauncher-meta lookup: this
// is the same coarse table, inlined rather than fetched. The hint is
// only carried on the ResolvedProfile; nothing in the launch path reads
// it, so it neither gates launch nor triggers a warning.
var javaMajorFallback = []struct {
	prefix string
	major  int
}{
	{"1.20", 17},
	{"1.19", 17},
	{"1.18", 17},
	{"1.17", 16},
	{"1.16", 8},
	{"1.15", 8},
	{"1.14", 8},
	{"1.13", 8},
	{"1.12", 8},
	{"1.8", 8},
}

func javaMajorHint(desc *VersionDescriptor) int {
	if desc.JavaVersion != nil && desc.JavaVersion.MajorVersion > 0 {
		return desc.JavaVersion.MajorVersion
	}
	for _, row := range javaMajorFallback {
		if strings.HasPrefix(desc.ID, row.prefix) {
			return row.major
		}
	}
	return 8
}

// ResolveProfile evaluates rules and flattens arguments from a merged
// VersionDescriptor into a ResolvedProfile, per §4.1 steps 4–7.
func (r *Resolver) ResolveProfile(desc *VersionDescriptor, libDir, versionsDir string) (*ResolvedProfile, error) {
	profile := &ResolvedProfile{
		VersionID:            desc.ID,
		VersionType:          desc.Type,
		MainClass:            desc.MainClass,
		ComplianceLevel:      desc.ComplianceLevel,
		JavaMajorVersionHint: javaMajorHint(desc),
		AssetIndex: AssetIndexRef{
			ID:   assetIndexID(desc),
			URL:  desc.AssetIndex.URL,
			SHA1: desc.AssetIndex.SHA1,
			Size: desc.AssetIndex.Size,
		},
		ClientJar: FileRef{
			LocalPath: filepath.Join(versionsDir, desc.ID, desc.ID+".jar"),
			RemoteURL: desc.Downloads.Client.URL,
			SHA1:      desc.Downloads.Client.SHA1,
			Size:      desc.Downloads.Client.Size,
		},
	}

	if desc.Logging.Client.Argument != "" {
		profile.LoggingArgument = desc.Logging.Client.Argument
		profile.LoggingConfig = &FileRef{
			LocalPath: filepath.Join("assets", "log_configs", desc.Logging.Client.File.ID),
			RemoteURL: desc.Logging.Client.File.URL,
			SHA1:      desc.Logging.Client.File.SHA1,
			Size:      desc.Logging.Client.File.Size,
		}
	}

	seen := map[string]int{} // libraryKey -> index into profile.Libraries, for overlay supersession
	for _, lib := range desc.Libraries {
		resolved, ok, err := r.resolveLibrary(lib, libDir)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		key := libraryKey(resolved.Coordinate)
		if idx, exists := seen[key]; exists && resolved.Role == RoleClasspath {
			profile.Libraries[idx] = resolved
			continue
		}
		seen[key] = len(profile.Libraries)
		profile.Libraries = append(profile.Libraries, resolved)
	}

	if desc.MinecraftArguments != "" {
		profile.LegacyGameArgTmpl = desc.MinecraftArguments
	} else {
		profile.GameArgs = flattenArgs(desc.Arguments.Game, r.host)
	}
	profile.JVMArgs = flattenArgs(desc.Arguments.JVM, r.host)

	return profile, nil
}

func assetIndexID(desc *VersionDescriptor) string {
	if desc.AssetIndex.ID != "" {
		return desc.AssetIndex.ID
	}
	return desc.Assets
}

// libraryKey is the group:artifact merge key from the Design Notes,
// with the classifier appended when the coordinate carries one, so
// classifier variants (natives-*) coexist with their plain counterpart.
func libraryKey(coordinate string) string {
	parts := strings.Split(coordinate, ":")
	if len(parts) < 2 {
		return coordinate
	}
	if len(parts) > 3 {
		return parts[0] + ":" + parts[1] + ":" + parts[3]
	}
	return parts[0] + ":" + parts[1]
}

// resolveLibrary evaluates a library's rules and computes its resolved
// form, or reports ok=false if the rules disallow it on this host.
func (r *Resolver) resolveLibrary(lib Library, libDir string) (ResolvedLibrary, bool, error) {
	if !Evaluate(lib.Rules, r.host, nil) {
		return ResolvedLibrary{}, false, nil
	}

	if classifierKey, isNative := lib.Natives[r.host.OSName]; isNative {
		classifierKey = strings.ReplaceAll(classifierKey, "${arch}", archBits())
		art, ok := lib.Downloads.Classifiers[classifierKey]
		if !ok {
			return ResolvedLibrary{}, false, nil
		}
		return ResolvedLibrary{
			Coordinate:     lib.Name + ":" + classifierKey,
			LocalPath:      filepath.Join(libDir, filepath.FromSlash(art.Path)),
			RemoteURL:      art.URL,
			SHA1:           art.SHA1,
			Size:           art.Size,
			Role:           RoleNative,
			ExtractExclude: lib.ExtractRules.Exclude,
		}, true, nil
	}

	if lib.Downloads.Artifact != nil {
		return ResolvedLibrary{
			Coordinate: lib.Name,
			LocalPath:  filepath.Join(libDir, filepath.FromSlash(lib.Downloads.Artifact.Path)),
			RemoteURL:  lib.Downloads.Artifact.URL,
			SHA1:       lib.Downloads.Artifact.SHA1,
			Size:       lib.Downloads.Artifact.Size,
			Role:       RoleClasspath,
		}, true, nil
	}

	// No explicit downloads block (Forge/legacy style): derive the
	// canonical Maven layout path and URL from the coordinate.
	path, err := ArtifactToPath(lib.Name)
	if err != nil {
		return ResolvedLibrary{}, false, err
	}
	base := lib.URL
	if base == "" {
		base = "https://libraries.minecraft.net/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return ResolvedLibrary{
		Coordinate: lib.Name,
		LocalPath:  filepath.Join(libDir, filepath.FromSlash(path)),
		RemoteURL:  base + path,
		Role:       RoleClasspath,
	}, true, nil
}

func archBits() string {
	if strings.Contains(runtime.GOARCH, "64") {
		return "64"
	}
	return "32"
}

// ArtifactToPath converts a Maven coordinate (group:artifact:version[:classifier][@ext])
// into its canonical repository-relative path. Grounded on dizzyd-mcdex's
// forge.go artifactToPath, generalized to slash-form output.
func ArtifactToPath(coordinate string) (string, error) {
	ext := "jar"
	if i := strings.LastIndex(coordinate, "@"); i != -1 {
		ext = coordinate[i+1:]
		coordinate = coordinate[:i]
	}

	parts := strings.Split(coordinate, ":")
	if len(parts) < 3 {
		return "", fmt.Errorf("manifest: malformed artifact coordinate %q", coordinate)
	}
	group, artifact, version := parts[0], parts[1], parts[2]
	classifier := ""
	if len(parts) > 3 {
		classifier = "-" + parts[3]
	}

	groupPath := strings.ReplaceAll(group, ".", "/")
	filename := fmt.Sprintf("%s-%s%s.%s", artifact, version, classifier, ext)
	return strings.Join([]string{groupPath, artifact, version, filename}, "/"), nil
}

// flattenArgs converts raw argument tokens into ArgTokens, keeping
// placeholders intact for a later substitution pass (§4.1 step 6,
// §9 Design Notes).
func flattenArgs(raw []RawArgToken, host Host) []ArgToken {
	tokens := make([]ArgToken, 0, len(raw))
	for _, t := range raw {
		if t.Rules == nil && t.Values == nil {
			tokens = append(tokens, ArgToken{Literal: t.Literal, IsLiteral: true})
			continue
		}
		if !Evaluate(t.Rules, host, nil) {
			continue
		}
		tokens = append(tokens, ArgToken{Rules: t.Rules, Values: t.Values})
	}
	return tokens
}

// SortedVersionIDs returns ids of the given type, newest first, by
// release time (used by obtain_manifests).
func SortedVersionIDs(idx *VersionManifestIndex, versionType string) []string {
	entries := make([]VersionEntry, 0, len(idx.Versions))
	for _, v := range idx.Versions {
		if versionType == "" || v.Type == versionType {
			entries = append(entries, v)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ReleaseTime > entries[j].ReleaseTime
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
