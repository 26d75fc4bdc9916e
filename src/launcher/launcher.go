// Package launcher assembles the final process command line: resolves
// the placeholder table, orders the classpath, and produces the
// ordered JVM/game argument list, per §4.4 of the specification.
package launcher

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
)

// Params carries every per-launch value the placeholder table and JVM
// flags need, beyond what's already in the ResolvedProfile.
type Params struct {
	Username         string
	UUID             string // no-dash form, per the auth_uuid placeholder rule
	AccessToken      string
	UserType         string // "msa"
	GameDirectory    string
	AssetsRoot       string
	NativesDirectory string
	JVMPath          string
	MaxRAM           string
	MinRAM           string
	AdditionalJVM    []string
	ResolutionWidth  int
	ResolutionHeight int
}

// Assembler builds the java binary path and full argument list for a
// resolved profile.
type Assembler struct {
	log *zap.SugaredLogger
}

// New builds an Assembler.
func New(log *zap.SugaredLogger) *Assembler {
	return &Assembler{log: log}
}

// BuildCommand produces the java binary path and its full argument
// list: <jvm_binary> <additional_jvm_args> <resolved.jvm_args>
// <main_class> <resolved.game_args>, per §4.4's assembly order.
func (a *Assembler) BuildCommand(profile *manifest.ResolvedProfile, libDir string, p Params) (string, []string, error) {
	if profile.MainClass == "" {
		return "", nil, launchererr.New(launchererr.Config, "resolved profile has no main class")
	}

	javaPath := p.JVMPath
	if javaPath == "" {
		javaPath = "java"
	}
	maxRAM := p.MaxRAM
	if maxRAM == "" {
		maxRAM = "2G"
	}
	minRAM := p.MinRAM
	if minRAM == "" {
		minRAM = "512M"
	}

	if err := config.EnsureDir(p.GameDirectory); err != nil {
		return "", nil, launchererr.Wrap(launchererr.Filesystem, "create game directory", err)
	}

	classpath := buildClasspath(profile, libDir)
	placeholders := a.buildPlaceholders(profile, p, classpath)

	args := make([]string, 0, 16)
	args = append(args, "-Xmx"+maxRAM, "-Xms"+minRAM)
	args = append(args, "-Djava.library.path="+p.NativesDirectory)
	args = append(args, substituteAll(p.AdditionalJVM, placeholders)...)
	args = append(args, flattenTokens(profile.JVMArgs, placeholders)...)
	args = append(args, "-cp", classpath)
	args = append(args, profile.MainClass)
	args = append(args, a.gameArgs(profile, placeholders)...)

	a.log.Infow("launch command assembled", "version", profile.VersionID, "argc", len(args))
	return javaPath, args, nil
}

// buildClasspath orders classpath libraries followed by the client
// jar, joined with the platform path-list separator (§4.4).
func buildClasspath(profile *manifest.ResolvedProfile, libDir string) string {
	var parts []string
	for _, lib := range profile.Libraries {
		if lib.Role != manifest.RoleClasspath {
			continue
		}
		parts = append(parts, lib.LocalPath)
	}
	if profile.ClientJar.LocalPath != "" {
		parts = append(parts, profile.ClientJar.LocalPath)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// buildPlaceholders resolves the placeholder table from §4.4.
func (a *Assembler) buildPlaceholders(profile *manifest.ResolvedProfile, p Params, classpath string) map[string]string {
	username := p.Username
	if username == "" {
		username = "Player"
	}
	accessToken := p.AccessToken
	if accessToken == "" {
		accessToken = "0"
	}
	uuid := p.UUID
	if uuid == "" {
		uuid = "00000000000000000000000000000000"
	}
	userType := p.UserType
	if userType == "" {
		userType = "msa"
	}

	return map[string]string{
		"auth_player_name":   username,
		"auth_uuid":          uuid,
		"auth_access_token":  accessToken,
		"user_type":          userType,
		"version_name":       profile.VersionID,
		"version_type":       profile.VersionType,
		"game_directory":     p.GameDirectory,
		"assets_root":        p.AssetsRoot,
		"assets_index_name":  profile.AssetIndex.ID,
		"natives_directory":  p.NativesDirectory,
		"launcher_name":      config.ProductName,
		"launcher_version":   config.LauncherVersion,
		"classpath":          classpath,
		"resolution_width":   strconv.Itoa(p.ResolutionWidth),
		"resolution_height":  strconv.Itoa(p.ResolutionHeight),
		"user_properties":    "{}",
	}
}

// gameArgs produces the game argument list, preferring the modern
// arguments.game array and falling back to the legacy
// minecraftArguments string template for older descriptors.
func (a *Assembler) gameArgs(profile *manifest.ResolvedProfile, placeholders map[string]string) []string {
	if profile.LegacyGameArgTmpl != "" {
		tmpl := profile.LegacyGameArgTmpl
		for key, value := range placeholders {
			tmpl = strings.ReplaceAll(tmpl, "${"+key+"}", value)
		}
		return strings.Fields(tmpl)
	}
	return flattenTokens(profile.GameArgs, placeholders)
}

// flattenTokens substitutes placeholders into ArgTokens. Empty
// placeholders substitute to the empty string with the surrounding
// token preserved; values that collapse to empty after substitution
// are dropped entirely, per §4.4.
func flattenTokens(tokens []manifest.ArgToken, placeholders map[string]string) []string {
	var out []string
	for _, t := range tokens {
		values := t.Values
		if t.IsLiteral {
			values = []string{t.Literal}
		}
		for _, v := range values {
			sub := substitute(v, placeholders)
			if sub == "" {
				continue
			}
			out = append(out, sub)
		}
	}
	return out
}

func substituteAll(args []string, placeholders map[string]string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if sub := substitute(a, placeholders); sub != "" {
			out = append(out, sub)
		}
	}
	return out
}

func substitute(s string, placeholders map[string]string) string {
	for key, value := range placeholders {
		s = strings.ReplaceAll(s, "${"+key+"}", value)
	}
	return s
}

// UUIDNoDashes strips dashes from a canonical UUID string, for the
// ${auth_uuid} placeholder's no-dash convention.
func UUIDNoDashes(uuid string) string {
	return strings.ReplaceAll(uuid, "-", "")
}

// ResolveAssetsRoot is a small helper so callers building Params don't
// need to know the shared-assets layout directly.
func ResolveAssetsRoot(paths *config.Paths) string {
	return paths.AssetsDir()
}

// JarMissingError is returned by callers that pre-check the client jar
// exists before assembling a command.
func JarMissingError(path string) error {
	return launchererr.New(launchererr.NotFound, fmt.Sprintf("client jar not found: %s", path))
}

// EnsureClientJar verifies the client jar referenced by profile exists
// on disk before assembly.
func EnsureClientJar(profile *manifest.ResolvedProfile) error {
	if _, err := os.Stat(profile.ClientJar.LocalPath); err != nil {
		return JarMissingError(profile.ClientJar.LocalPath)
	}
	return nil
}
