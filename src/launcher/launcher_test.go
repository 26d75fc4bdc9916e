package launcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/launcher-core/src/logging"
	"github.com/embercore/launcher-core/src/manifest"
)

func testProfile() *manifest.ResolvedProfile {
	return &manifest.ResolvedProfile{
		VersionID:   "1.20.1",
		VersionType: "release",
		MainClass:   "net.minecraft.client.main.Main",
		Libraries: []manifest.ResolvedLibrary{
			{Coordinate: "com.mojang:a:1.0", LocalPath: "/libs/a.jar", Role: manifest.RoleClasspath},
			{Coordinate: "org.lwjgl:lwjgl:3.3.1:natives-linux", LocalPath: "/libs/lwjgl-natives.jar", Role: manifest.RoleNative},
		},
		ClientJar:  manifest.FileRef{LocalPath: "/versions/1.20.1/1.20.1.jar"},
		AssetIndex: manifest.AssetIndexRef{ID: "1.20"},
		JVMArgs: []manifest.ArgToken{
			{IsLiteral: true, Literal: "-Dos.name=test"},
		},
		GameArgs: []manifest.ArgToken{
			{IsLiteral: true, Literal: "--username"},
			{IsLiteral: true, Literal: "${auth_player_name}"},
			{IsLiteral: true, Literal: "--width"},
			{IsLiteral: true, Literal: "${resolution_width}"},
		},
	}
}

func TestBuildCommandOrdersClasspathThenGameArgs(t *testing.T) {
	dir := t.TempDir()
	a := New(logging.Nop())

	gameDir := filepath.Join(dir, "minecraft")
	javaPath, args, err := a.BuildCommand(testProfile(), filepath.Join(dir, "libraries"), Params{
		Username:         "Steve",
		UUID:             "abc123",
		AccessToken:      "tok",
		GameDirectory:    gameDir,
		AssetsRoot:       filepath.Join(dir, "assets"),
		NativesDirectory: filepath.Join(dir, "natives"),
		ResolutionWidth:  1280,
		ResolutionHeight: 720,
	})
	require.NoError(t, err)
	assert.Equal(t, "java", javaPath)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "net.minecraft.client.main.Main")
	assert.Contains(t, joined, "Steve")
	assert.Contains(t, joined, "1280")

	mainIdx := indexOf(args, "net.minecraft.client.main.Main")
	cpIdx := indexOf(args, "-cp")
	require.NotEqual(t, -1, mainIdx)
	require.NotEqual(t, -1, cpIdx)
	assert.Less(t, cpIdx, mainIdx, "classpath flag must precede main class")

	_, err = os.Stat(gameDir)
	assert.NoError(t, err, "game directory must be created")
}

func TestBuildCommandClasspathOrdersLibrariesThenClientJar(t *testing.T) {
	dir := t.TempDir()
	a := New(logging.Nop())
	profile := testProfile()

	_, args, err := a.BuildCommand(profile, dir, Params{GameDirectory: filepath.Join(dir, "mc")})
	require.NoError(t, err)

	cpIdx := indexOf(args, "-cp")
	require.NotEqual(t, -1, cpIdx)
	cp := args[cpIdx+1]
	assert.True(t, strings.Contains(cp, "a.jar"))
	assert.True(t, strings.Contains(cp, "1.20.1.jar"))
	assert.False(t, strings.Contains(cp, "lwjgl-natives.jar"), "native jars must not be on the classpath")
	assert.True(t, strings.Index(cp, "a.jar") < strings.Index(cp, "1.20.1.jar"), "client jar must be last")
}

func TestBuildCommandRejectsMissingMainClass(t *testing.T) {
	a := New(logging.Nop())
	profile := testProfile()
	profile.MainClass = ""

	_, _, err := a.BuildCommand(profile, "", Params{GameDirectory: "/tmp"})
	assert.Error(t, err)
}

func TestGameArgsFallsBackToLegacyTemplate(t *testing.T) {
	a := New(logging.Nop())
	profile := testProfile()
	profile.GameArgs = nil
	profile.LegacyGameArgTmpl = "--username ${auth_player_name} --uuid ${auth_uuid}"

	args := a.gameArgs(profile, map[string]string{
		"auth_player_name": "Alex",
		"auth_uuid":        "deadbeef",
	})
	assert.Equal(t, []string{"--username", "Alex", "--uuid", "deadbeef"}, args)
}

func TestFlattenTokensDropsEmptySubstitutions(t *testing.T) {
	tokens := []manifest.ArgToken{
		{IsLiteral: true, Literal: "--demo"},
		{Values: []string{"${resolution_width}"}},
	}
	out := flattenTokens(tokens, map[string]string{"resolution_width": ""})
	assert.Equal(t, []string{"--demo"}, out)
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}
