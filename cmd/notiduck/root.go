// Package main provides the CLI entrypoint for notiduck.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/notiduck/notiduck/internal/config"
	"github.com/notiduck/notiduck/internal/ducker"
	"github.com/notiduck/notiduck/internal/pulse"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Exit codes, so callers can distinguish "nothing happened" from "something
// was changed but may not be fully reverted".
const (
	exitPlaybackFailed     = 2
	exitBackendUnavailable = 3
	exitPartialRestore     = 4
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		configPath string
		fadeOut    string
		fadeIn     string
		volume     int
		duckVolume int
		detach     bool
	}
	logger *slog.Logger
)

// rootCmd represents the base command: play a notification sound while
// ducking everything else.
var rootCmd = &cobra.Command{
	Use:   "notiduck [flags] <sound>",
	Short: "Play a notification sound while ducking other audio",
	Long: `notiduck plays a notification sound on Linux desktops running
PulseAudio or PipeWire. Before the sound plays, the volume of every active
playback stream is faded down to a configurable floor; afterwards every
stream is faded back to exactly the level it had before. Restoration is
guaranteed even when playback fails or the process is interrupted.

The sound argument is either a file path or an alias defined in the
[sounds] section of the config file.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		var err error
		cfg, err = config.Load(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	RunE: runPlay,
}

// Execute runs the root command and maps errors onto exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes the failure modes the shell cares about.
func exitCode(err error) int {
	var restoreErr *ducker.PartialRestoreError
	if errors.As(err, &restoreErr) {
		return exitPartialRestore
	}

	var playErr *ducker.PlaybackError
	if errors.As(err, &playErr) {
		return exitPlaybackFailed
	}

	if errors.Is(err, pulse.ErrBackendUnavailable) {
		return exitBackendUnavailable
	}

	return 1
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&globalOpts.verbose, "verbose", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.configPath, "config", "c", "",
		"Path to config file (default: ~/.config/notiduck/config.toml)")

	rootCmd.Flags().StringVarP(&globalOpts.fadeOut, "fade-out", "f", "",
		"Fade-out duration in seconds (e.g. 0.3) or as a duration (300ms)")
	rootCmd.Flags().StringVarP(&globalOpts.fadeIn, "fade-in", "i", "",
		"Fade-in duration in seconds (e.g. 0.3) or as a duration (300ms)")
	rootCmd.Flags().IntVarP(&globalOpts.volume, "volume", "v", 0,
		"Notification sound volume percentage (0-100)")
	rootCmd.Flags().IntVar(&globalOpts.duckVolume, "duck-volume", 0,
		"Volume floor other streams are faded down to (0-100)")
	rootCmd.Flags().BoolVarP(&globalOpts.detach, "detach", "d", false,
		"Detach and play in the background")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
