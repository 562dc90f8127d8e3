// Command filesync is the file-synchronization daemon and its control
// CLI: filesync {start|stop|restart|status|reload|pause|resume}.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/daemon"
)

// Exit codes of the CLI contract.
const (
	exitOK             = 0
	exitUsage          = 1
	exitEnvFailed      = 2
	exitInitFailed     = 3
	exitUnknownCommand = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	exitCode := exitOK
	ctl := daemon.NewController(mustGetwd())

	root := &cobra.Command{
		Use:           "filesync <command>",
		Short:         "file synchronization daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			exitCode = exitUsage
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	commands := []struct {
		use   string
		short string
		fn    func() int
	}{
		{"start", "start the daemon in the background", ctl.Start},
		{"stop", "stop the running daemon", ctl.Stop},
		{"restart", "restart the daemon", ctl.Restart},
		{"status", "print the daemon status block", ctl.Status},
		{"reload", "reload the sync configuration", ctl.Reload},
		{"pause", "pause task processing", ctl.Pause},
		{"resume", "resume task processing", ctl.Resume},
	}
	for _, c := range commands {
		fn := c.fn
		root.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				exitCode = fn()
			},
		})
	}

	// The detached daemon process itself; spawned by start, never
	// typed by operators.
	root.AddCommand(&cobra.Command{
		Use:    "run",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			exitCode = runDaemon()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.Contains(err.Error(), "unknown command") {
			return exitUnknownCommand
		}
		return exitUsage
	}
	return exitCode
}

// runDaemon initializes and runs the daemon in the foreground of the
// detached process. Environment failures and component failures map
// onto distinct exit codes so start can report which stage broke.
func runDaemon() int {
	paths := daemon.NewPaths(mustGetwd())

	env, err := config.LoadEnv(paths.EnvINI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "environment init failed: %v\n", err)
		return exitEnvFailed
	}
	if err := env.CheckUser(); err != nil {
		fmt.Fprintf(os.Stderr, "environment init failed: %v\n", err)
		return exitEnvFailed
	}

	d := daemon.New(paths, env)
	if err := d.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "component init failed: %v\n", err)
		return exitInitFailed
	}
	return d.Run()
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitEnvFailed)
	}
	return wd
}
