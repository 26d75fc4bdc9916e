// Command launcher is the headless CLI entry point over the core's RPC
// surface: it launches a single named instance and streams its logs to
// stdout until the child exits. A GUI shell would instead embed
// src/rpc.Service directly and drive it over its own transport; this
// binary exists for --instance headless launch and for smoke-testing
// the wiring end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/logging"
	"github.com/embercore/launcher-core/src/process"
	"github.com/embercore/launcher-core/src/rpc"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var instanceName string

	cmd := &cobra.Command{
		Use:   "launcher",
		Short: "Embercore launcher core, headless",
		Long: `Embercore's launcher core as a standalone binary.

Without --instance it only verifies that every component wires up
(manifest resolver, modloader installers, download executor, native
extractor, process supervisor, authentication engine, instance
catalog, CurseForge adapter) and exits. With --instance it launches
that instance headlessly, streaming its log lines to stdout until the
child process exits, mirroring the same path a GUI shell drives
through src/rpc.Service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), instanceName)
		},
	}

	cmd.Flags().StringVarP(&instanceName, "instance", "i", "", "launch this instance headlessly instead of exiting immediately")

	return cmd
}

func run(ctx context.Context, instanceName string) error {
	log := logging.New()
	defer log.Sync()

	paths := config.NewPaths("")
	if err := config.EnsureDir(paths.Root); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	msaClientID := os.Getenv("EMBERCORE_MSA_CLIENT_ID")
	curseforgeKey := os.Getenv("EMBERCORE_CURSEFORGE_API_KEY")

	svc, err := rpc.New(paths, msaClientID, curseforgeKey, log)
	if err != nil {
		return fmt.Errorf("wire up launcher core: %w", err)
	}

	if instanceName == "" {
		log.Infow("launcher core ready", "data_dir", paths.Root)
		return nil
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	exited := make(chan process.ExitEvent, 1)
	svc.Events().On(events.InstanceLogging, func(data any) {
		evt := data.(process.LoggingEvent)
		for _, line := range evt.Lines {
			fmt.Printf("[%s] %s\n", evt.InstanceName, line.Text)
		}
	})
	svc.Events().On(events.InstanceExited, func(data any) {
		exited <- data.(process.ExitEvent)
	})
	svc.Events().On(events.AuthenticationError, func(data any) {
		log.Errorw("authentication failed", "detail", data)
	})

	if err := svc.LaunchInstance(ctx, instanceName); err != nil {
		return fmt.Errorf("launch %q: %w", instanceName, err)
	}

	select {
	case evt := <-exited:
		log.Infow("instance exited", "instance", instanceName, "code", evt.Code, "kind", evt.Kind)
		if evt.Kind != process.Exited || evt.Code != 0 {
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Infow("interrupted, exiting", "instance", instanceName)
	}

	return nil
}
