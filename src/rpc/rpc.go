// Package rpc is the command surface the UI (or, headless, the CLI)
// drives the core through: one method per contractual command, wiring
// together the manifest/modloader/download/native/launcher/process
// packages into the flows described in the external interfaces section
// of the specification. Service sequences the same fetch-manifest,
// resolve, download, extract-natives, launch chain every creation and
// launch path needs, just reshaped into a stable, UI-agnostic API with
// one method per command instead of a single fixed call order.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/embercore/launcher-core/src/auth"
	"github.com/embercore/launcher-core/src/catalog"
	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/curseforge"
	"github.com/embercore/launcher-core/src/downloader"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/fabric"
	"github.com/embercore/launcher-core/src/forge"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/launcher"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
	"github.com/embercore/launcher-core/src/natives"
	"github.com/embercore/launcher-core/src/process"
	"github.com/embercore/launcher-core/src/secretstore"
)

// Service is the single entry point the UI/CLI layer calls into. It
// owns every long-lived core component and the in-memory state that
// spans multiple calls (pending device-code flows).
type Service struct {
	paths   *config.Paths
	emitter *events.EventEmitter
	log     *zap.SugaredLogger
	http    *httpclient.Client

	resolver    *manifest.Resolver
	fabricInst  *fabric.Installer
	forgeInst   *forge.Installer
	natives     *natives.Extractor
	assembler   *launcher.Assembler
	supervisor  *process.Supervisor
	authEngine  *auth.Engine
	accounts    *auth.AccountSet
	catalog     *catalog.Catalog
	curseforge  *curseforge.Client

	pendingMu sync.Mutex
	pending   map[string]*auth.DeviceCodeResponse // device_code -> in-flight flow

	launchingMu sync.Mutex
	launching   map[string]bool // instance name -> a launch_instance call is mid-pipeline
}

// New wires every component together for one application run.
func New(paths *config.Paths, msaClientID, curseforgeAPIKey string, log *zap.SugaredLogger) (*Service, error) {
	httpClient := httpclient.New()
	emitter := events.New()
	supervisor := process.New(emitter, log)

	accounts, err := auth.LoadAccountSet(paths)
	if err != nil {
		return nil, err
	}

	return &Service{
		paths:      paths,
		emitter:    emitter,
		log:        log,
		http:       httpClient,
		resolver:   manifest.New(httpClient, paths, log),
		fabricInst: fabric.New(httpClient, paths, log),
		forgeInst:  forge.New(httpClient, log),
		natives:    natives.New(emitter, log),
		assembler:  launcher.New(log),
		supervisor: supervisor,
		authEngine: auth.New(httpClient, msaClientID, log),
		accounts:   accounts,
		catalog:    catalog.New(paths, supervisor),
		curseforge: curseforge.New(httpClient, curseforgeAPIKey),
		pending:    make(map[string]*auth.DeviceCodeResponse),
		launching:  make(map[string]bool),
	}, nil
}

// Events returns the emitter every command's side-effecting events are
// published on; the UI/CLI layer subscribes to it once at startup.
func (s *Service) Events() *events.EventEmitter { return s.emitter }

// VanillaVersionView is one entry of obtain_manifests' vanilla_versions.
type VanillaVersionView struct {
	Version      string `json:"version"`
	ReleasedDate string `json:"releasedDate"`
	VersionType  string `json:"versionType"`
}

// ManifestsView is obtain_manifests' full response shape.
type ManifestsView struct {
	VanillaVersions []VanillaVersionView `json:"vanilla_versions"`
	FabricVersions  []string             `json:"fabric_versions"`
	ForgeVersions   map[string][]string  `json:"forge_versions"`
}

// ObtainManifests lists every vanilla version, every published Fabric
// loader build for the latest release, and Forge's full vanilla-id →
// build-list map.
func (s *Service) ObtainManifests(ctx context.Context) (*ManifestsView, error) {
	idx, err := s.resolver.LoadManifestIndex(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]manifest.VersionEntry, len(idx.Versions))
	vanilla := make([]VanillaVersionView, 0, len(idx.Versions))
	for _, id := range manifest.SortedVersionIDs(idx, "") {
		entry, _ := idx.ByID(id)
		byID[id] = entry
		vanilla = append(vanilla, VanillaVersionView{
			Version:      entry.ID,
			ReleasedDate: entry.ReleaseTime,
			VersionType:  entry.Type,
		})
	}

	latestRelease := idx.Latest.Release
	fabricVersions, err := s.fabricInst.ListLoaderVersions(ctx, latestRelease)
	if err != nil {
		s.log.Warnw("failed to list fabric loader versions", "err", err)
		fabricVersions = nil
	}

	forgeVersions, err := s.forgeInst.ListVersions(ctx)
	if err != nil {
		s.log.Warnw("failed to list forge versions", "err", err)
		forgeVersions = nil
	}

	return &ManifestsView{
		VanillaVersions: vanilla,
		FabricVersions:  fabricVersions,
		ForgeVersions:   forgeVersions,
	}, nil
}

// Resolution mirrors catalog.Resolution at the RPC boundary.
type Resolution struct {
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	Maximized bool `json:"maximized"`
}

// InstanceSettings is obtain_version's argument: the UI's description
// of the instance to create, in the camelCase shape the command table
// names, distinct from catalog.InstanceConfig's on-disk snake_case
// shape.
type InstanceSettings struct {
	InstanceName           string             `json:"instanceName"`
	VanillaVersion         string             `json:"vanillaVersion"`
	ModloaderType          catalog.ModloaderType `json:"modloaderType"`
	ModloaderVersion       string             `json:"modloaderVersion,omitempty"`
	JVMPathOverride        string             `json:"jvmPathOverride,omitempty"`
	AdditionalJVMArguments []string           `json:"additionalJvmArguments,omitempty"`
	Resolution             Resolution         `json:"resolution"`
	RecordPlaytime         bool               `json:"recordPlaytime"`
	OverrideOptionsTxt     string             `json:"overrideOptionsTxt,omitempty"`
	OverrideServersDat     string             `json:"overrideServersDat,omitempty"`
	Author                 string             `json:"author,omitempty"`
}

func (s InstanceSettings) toConfig() catalog.InstanceConfig {
	return catalog.InstanceConfig{
		InstanceName:           s.InstanceName,
		VanillaVersion:         s.VanillaVersion,
		ModloaderType:          s.ModloaderType,
		ModloaderVersion:       s.ModloaderVersion,
		JVMPathOverride:        s.JVMPathOverride,
		AdditionalJVMArguments: s.AdditionalJVMArguments,
		Resolution:             catalog.Resolution(s.Resolution),
		RecordPlaytime:         s.RecordPlaytime,
		OverrideOptionsTxt:     s.OverrideOptionsTxt,
		OverrideServersDat:     s.OverrideServersDat,
		Author:                 s.Author,
		CreatedAt:              time.Now(),
	}
}

// resolveDescriptor produces the merged version descriptor for a
// (vanilla, modloader) pair, shared by ObtainVersion and
// LaunchInstance so both go through the exact same inheritance/overlay
// path.
func (s *Service) resolveDescriptor(ctx context.Context, vanillaVersion string, modloaderType catalog.ModloaderType, modloaderVersion, jvmPath string) (*manifest.VersionDescriptor, error) {
	vanilla, err := s.resolver.LoadVersionDescriptor(ctx, vanillaVersion)
	if err != nil {
		return nil, err
	}

	switch modloaderType {
	case catalog.ModloaderNone, "":
		return vanilla, nil
	case catalog.ModloaderFabric:
		return s.fabricInst.Install(ctx, vanilla, vanillaVersion, modloaderVersion)
	case catalog.ModloaderForge:
		if jvmPath == "" {
			jvmPath = "java"
		}
		return s.forgeInst.Install(ctx, vanilla, vanillaVersion, modloaderVersion, s.paths, jvmPath)
	default:
		return nil, launchererr.New(launchererr.Config, fmt.Sprintf("unknown modloader type %q", modloaderType))
	}
}

// downloadAndResolve runs the manifest resolver's ResolveProfile step
// and the full download plan/execute pass for desc, per §4.1/§4.2.
func (s *Service) downloadAndResolve(ctx context.Context, desc *manifest.VersionDescriptor) (*manifest.ResolvedProfile, error) {
	profile, err := s.resolver.ResolveProfile(desc, s.paths.LibrariesDir(), s.paths.VersionsDir())
	if err != nil {
		return nil, err
	}

	tasks, err := downloader.Plan(ctx, s.http, profile, s.paths)
	if err != nil {
		return nil, err
	}
	executor := downloader.NewExecutor(s.http, s.emitter, s.log, 0)
	if err := executor.Run(ctx, tasks); err != nil {
		return nil, err
	}

	return profile, nil
}

// ObtainVersion resolves the requested vanilla/modloader pair,
// downloads every file it needs, and creates the instance directory,
// per obtain_version.
func (s *Service) ObtainVersion(ctx context.Context, settings InstanceSettings) error {
	desc, err := s.resolveDescriptor(ctx, settings.VanillaVersion, settings.ModloaderType, settings.ModloaderVersion, settings.JVMPathOverride)
	if err != nil {
		return err
	}

	profile, err := s.downloadAndResolve(ctx, desc)
	if err != nil {
		return err
	}

	cfg := settings.toConfig()
	if err := s.catalog.CreateInstance(cfg, profile); err != nil {
		return err
	}

	s.emitter.Emit(events.InstanceDone, cfg.InstanceName)
	return nil
}

// LoadInstances returns every instance's configuration, per
// load_instances.
func (s *Service) LoadInstances() ([]catalog.InstanceConfig, error) {
	return s.catalog.LoadInstances()
}

// OpenFolder opens the OS file explorer at an instance's directory.
func (s *Service) OpenFolder(instanceName string) error {
	return s.catalog.OpenFolder(instanceName)
}

// LaunchInstance resolves the instance's stored settings back into a
// descriptor (hitting the on-disk caches, so this is normally a fast
// path), refreshes the active account if its token is close to expiry,
// extracts natives, assembles the command line, and hands it to the
// process supervisor. Returns once the child has been spawned; the
// process's own lifecycle streams back over events from here on.
//
// A second launch_instance call for the same instance while one is
// already mid-pipeline is rejected immediately with AlreadyRunning,
// rather than letting it run the whole resolve/download pipeline only
// to be turned away by the process supervisor at the very end.
func (s *Service) LaunchInstance(ctx context.Context, instanceName string) error {
	if !s.beginLaunch(instanceName) {
		return launchererr.New(launchererr.AlreadyRunning, fmt.Sprintf("instance %q is already running", instanceName))
	}
	defer s.endLaunch(instanceName)

	cfg, err := s.catalog.LoadInstance(instanceName)
	if err != nil {
		return err
	}

	account, ok := s.accounts.Active()
	if !ok {
		return launchererr.New(launchererr.Auth, "no active account")
	}
	if auth.NeedsRefresh(&account) {
		refreshed, _, err := s.refreshAccount(ctx, account)
		if err != nil {
			s.emitter.Emit(events.AuthenticationError, authErrorPayload(err))
			return err
		}
		account = *refreshed
	}

	desc, err := s.resolveDescriptor(ctx, cfg.VanillaVersion, cfg.ModloaderType, cfg.ModloaderVersion, cfg.JVMPathOverride)
	if err != nil {
		return err
	}
	profile, err := s.downloadAndResolve(ctx, desc)
	if err != nil {
		return err
	}

	nativesDir := s.paths.InstanceNativesDir(instanceName)
	if err := s.natives.Extract(profile.Libraries, nativesDir); err != nil {
		return err
	}

	parsedUUID, err := uuid.Parse(account.UUID)
	if err != nil {
		return launchererr.Wrap(launchererr.Schema, "malformed account uuid", err)
	}

	params := launcher.Params{
		Username:         account.Username,
		UUID:             strings.ReplaceAll(parsedUUID.String(), "-", ""),
		AccessToken:      account.MinecraftAccessToken,
		UserType:         "msa",
		GameDirectory:    s.paths.InstanceGameDir(instanceName),
		AssetsRoot:       s.paths.AssetsDir(),
		NativesDirectory: nativesDir,
		JVMPath:          cfg.JVMPathOverride,
		AdditionalJVM:    cfg.AdditionalJVMArguments,
		ResolutionWidth:  cfg.Resolution.Width,
		ResolutionHeight: cfg.Resolution.Height,
	}
	javaPath, args, err := s.assembler.BuildCommand(profile, s.paths.LibrariesDir(), params)
	if err != nil {
		return err
	}

	return s.supervisor.Launch(instanceName, javaPath, args, s.paths.InstanceGameDir(instanceName), s.paths.InstanceLogsDir(instanceName))
}

// beginLaunch claims instanceName for the duration of one LaunchInstance
// call, reporting false if another call already holds it.
func (s *Service) beginLaunch(instanceName string) bool {
	s.launchingMu.Lock()
	defer s.launchingMu.Unlock()
	if s.launching[instanceName] {
		return false
	}
	s.launching[instanceName] = true
	return true
}

func (s *Service) endLaunch(instanceName string) {
	s.launchingMu.Lock()
	defer s.launchingMu.Unlock()
	delete(s.launching, instanceName)
}

func authErrorPayload(err error) map[string]string {
	kind, _ := launchererr.KindOf(err)
	payload := string(kind)
	var e *launchererr.Error
	if errors.As(err, &e) && e.Kind == launchererr.Auth && e.AuthSub != "" {
		payload = string(e.AuthSub)
	}
	return map[string]string{"kind": payload, "detail": err.Error()}
}

// refreshAccount re-runs the MSA refresh leg for account using its
// stored refresh token, persisting the refreshed profile and token.
func (s *Service) refreshAccount(ctx context.Context, account auth.Account) (*auth.Account, string, error) {
	storedRefreshToken, err := secretstore.Load(account.UUID)
	if err != nil {
		return nil, "", launchererr.WrapAuth(launchererr.RefreshRejected, "no stored refresh token", err)
	}

	refreshed, refreshToken, err := s.authEngine.Refresh(ctx, storedRefreshToken)
	if err != nil {
		return nil, "", err
	}
	if err := s.accounts.Upsert(*refreshed); err != nil {
		return nil, "", err
	}
	if err := auth.StoreRefreshToken(refreshed, refreshToken); err != nil {
		return nil, "", err
	}
	return refreshed, refreshToken, nil
}

// LineView is one line of read_log_lines' response: the raw text plus
// its classification, empty string for an ordinary info line.
type LineView struct {
	Line     string `json:"line"`
	LineType string `json:"lineType"`
}

func lineTypeOf(kind process.LineKind) string {
	switch kind {
	case process.LineWarn:
		return "warning"
	case process.LineError:
		return "error"
	default:
		return ""
	}
}

// ReadLogLines returns one log's lines, typed per line, for
// read_log_lines.
func (s *Service) ReadLogLines(instanceName, logName string) ([]LineView, error) {
	lines, err := s.catalog.ReadLogLines(instanceName, logName)
	if err != nil {
		return nil, err
	}
	views := make([]LineView, len(lines))
	for i, l := range lines {
		views[i] = LineView{Line: l.Text, LineType: lineTypeOf(l.Kind)}
	}
	return views, nil
}

// GetLogs returns every instance's log ids mapped to their raw lines,
// per get_logs's no-argument, all-instances shape.
func (s *Service) GetLogs() (map[string]map[string][]string, error) {
	instances, err := s.catalog.LoadInstances()
	if err != nil {
		return nil, err
	}

	result := make(map[string]map[string][]string, len(instances))
	for _, inst := range instances {
		logs, err := s.catalog.GetLogs(inst.InstanceName)
		if err != nil {
			continue
		}
		byID := make(map[string][]string, len(logs))
		for id, lines := range logs {
			texts := make([]string, len(lines))
			for i, l := range lines {
				texts[i] = l.Text
			}
			byID[id] = texts
		}
		result[inst.InstanceName] = byID
	}
	return result, nil
}

// GetScreenshots returns every instance's screenshot paths, per
// get_screenshots's no-argument, all-instances shape.
func (s *Service) GetScreenshots() (map[string][]string, error) {
	instances, err := s.catalog.LoadInstances()
	if err != nil {
		return nil, err
	}

	result := make(map[string][]string, len(instances))
	for _, inst := range instances {
		shots, err := s.catalog.GetScreenshots(inst.InstanceName)
		if err != nil {
			continue
		}
		result[inst.InstanceName] = shots
	}
	return result, nil
}
