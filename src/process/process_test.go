package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/logging"
)

// TestHelperProcess is not a real test: it is exec'd as a subprocess by
// other tests in this file (the standard os/exec trick) to stand in for
// a Minecraft child process, guarded by an env var so a normal test run
// returns immediately.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Println("[Client thread/INFO]: Setting user: Player123")
	fmt.Fprintln(os.Stderr, "[Client thread/WARN]: some warning")
	fmt.Println("[Client thread/INFO]: done")
	os.Exit(0)
}

func TestClassifyLineRules(t *testing.T) {
	assert.Equal(t, LineError, ClassifyLine("[main/ERROR]: boom"))
	assert.Equal(t, LineWarn, ClassifyLine("[main/WARN]: careful"))
	assert.Equal(t, LineInfo, ClassifyLine("[main/INFO]: hello"))
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, isSentinel("Setting user: Steve"))
	assert.True(t, isSentinel("Initializing LWJGL OpenAL"))
	assert.False(t, isSentinel("just a regular line"))
}

func TestLaunchTailsClassifiesSentinelsAndRotatesLog(t *testing.T) {
	os.Setenv("GO_WANT_HELPER_PROCESS", "1")
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")

	dir := t.TempDir()
	emitter := events.New()

	exited := make(chan ExitEvent, 1)
	emitter.On(events.InstanceExited, func(data any) { exited <- data.(ExitEvent) })

	stateEvents := make(chan StateEvent, 8)
	emitter.On(events.InstanceState, func(data any) { stateEvents <- data.(StateEvent) })

	var mu sync.Mutex
	var logged []LoggingEvent
	emitter.On(events.InstanceLogging, func(data any) {
		mu.Lock()
		logged = append(logged, data.(LoggingEvent))
		mu.Unlock()
	})

	sup := New(emitter, logging.Nop())
	logsDir := filepath.Join(dir, "logs")
	err := sup.Launch("demo", os.Args[0], []string{"-test.run=TestHelperProcess"}, dir, logsDir)
	require.NoError(t, err)

	select {
	case ev := <-exited:
		assert.Equal(t, "demo", ev.InstanceName)
		assert.Equal(t, Exited, ev.Kind)
		assert.Equal(t, 0, ev.Code)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for instance-exited")
	}

	sawInitialized := false
	for {
		select {
		case se := <-stateEvents:
			if se.State == Initialized {
				sawInitialized = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawInitialized, "expected a transition to Initialized from the sentinel line")

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, logged, "expected at least one batched instance-logging event")

	rotated, err := filepath.Glob(filepath.Join(logsDir, "*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 1, "latest.log must be rotated to a timestamped file on exit")
}

func TestLaunchRejectsDoubleLaunch(t *testing.T) {
	os.Setenv("GO_WANT_HELPER_PROCESS", "1")
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")

	dir := t.TempDir()
	emitter := events.New()
	sup := New(emitter, logging.Nop())
	logsDir := filepath.Join(dir, "logs")

	require.NoError(t, sup.Launch("demo", os.Args[0], []string{"-test.run=TestHelperProcess"}, dir, logsDir))

	err := sup.Launch("demo", os.Args[0], []string{"-test.run=TestHelperProcess"}, dir, logsDir)
	assert.Error(t, err)
}

func TestReadSealedLogReclassifiesLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(path, []byte("[main/ERROR]: bad\n[main/INFO]: ok\n"), 0o644))

	lines, err := ReadSealedLog(path)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, LineError, lines[0].Kind)
	assert.Equal(t, LineInfo, lines[1].Kind)
}
