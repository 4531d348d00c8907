package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/notiduck/notiduck/internal/audio"
	"github.com/notiduck/notiduck/internal/config"
	"github.com/notiduck/notiduck/internal/desktop"
	"github.com/notiduck/notiduck/internal/ducker"
	"github.com/notiduck/notiduck/internal/lockfile"
	"github.com/notiduck/notiduck/internal/pulse"
)

// detachedEnv marks a re-executed background child so it doesn't detach
// again.
const detachedEnv = "NOTIDUCK_DETACHED"

func runPlay(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no sound specified; pass a file path or an alias from the config (see 'notiduck sounds')")
	}

	soundPath, err := cfg.ResolveSound(args[0])
	if err != nil {
		return err
	}

	req, err := buildRequest(cmd, soundPath)
	if err != nil {
		return err
	}

	if shouldDetach() {
		return respawnDetached()
	}

	lock := lockfile.New(lockfile.DefaultPath())
	acquired, err := lock.Acquire(req.OpID)
	if err != nil {
		// A broken lock file must not block the notification itself.
		logger.Warn("lock file unusable, continuing without it", "error", err)
	} else if !acquired {
		if err := lock.Forward(soundPath); err != nil {
			return fmt.Errorf("forwarding to running instance: %w", err)
		}
		logger.Info("request forwarded to running instance", "sound", soundPath)
		return nil
	} else {
		defer func() {
			dropped, rerr := lock.Release()
			if rerr != nil {
				logger.Warn("could not remove lock file", "error", rerr)
			}
			if len(dropped) > 0 {
				logger.Warn("forwarded requests arrived too late to play",
					"sounds", dropped)
			}
		}()
	}

	// Restoration on SIGINT/SIGTERM rides on context cancellation: the
	// orchestrator's restore guard runs before Run returns.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	player := audio.NewPlayer(logger)
	defer player.Close()

	orch := ducker.New(pulse.NewController(logger), soundPlayer{player}, logger)
	if acquired {
		orch.SetQueue(&lockQueue{lock: lock})
		orch.OnStateChange(func(s ducker.State) {
			_ = lock.SetState(string(s))
		})
	}

	err = orch.Run(ctx, req)

	var restoreErr *ducker.PartialRestoreError
	if errors.As(err, &restoreErr) {
		logger.Error("some stream volumes may remain altered",
			"unconfirmed", restoreErr.Unconfirmed)
		if cfg.NotifyOnFailure {
			if nerr := desktop.Notify("notiduck: volumes not fully restored",
				restoreErr.Error()); nerr != nil {
				logger.Warn("could not post desktop notification", "error", nerr)
			}
		}
	}

	return err
}

// buildRequest merges flag overrides over the loaded configuration.
func buildRequest(cmd *cobra.Command, soundPath string) (ducker.Request, error) {
	req := ducker.Request{
		OpID:       newOpID(),
		SoundPath:  soundPath,
		FadeOut:    cfg.FadeOut.Duration(),
		FadeIn:     cfg.FadeIn.Duration(),
		Volume:     cfg.Volume,
		DuckVolume: cfg.DuckVolume,
	}

	if cmd.Flags().Changed("fade-out") {
		var d config.Duration
		if err := d.UnmarshalText([]byte(globalOpts.fadeOut)); err != nil {
			return req, fmt.Errorf("--fade-out: %w", err)
		}
		req.FadeOut = d.Duration()
	}
	if cmd.Flags().Changed("fade-in") {
		var d config.Duration
		if err := d.UnmarshalText([]byte(globalOpts.fadeIn)); err != nil {
			return req, fmt.Errorf("--fade-in: %w", err)
		}
		req.FadeIn = d.Duration()
	}
	if cmd.Flags().Changed("volume") {
		if globalOpts.volume < 0 || globalOpts.volume > 100 {
			return req, fmt.Errorf("--volume must be between 0 and 100, got %d", globalOpts.volume)
		}
		req.Volume = globalOpts.volume
	}
	if cmd.Flags().Changed("duck-volume") {
		if globalOpts.duckVolume < 0 || globalOpts.duckVolume > 100 {
			return req, fmt.Errorf("--duck-volume must be between 0 and 100, got %d", globalOpts.duckVolume)
		}
		req.DuckVolume = globalOpts.duckVolume
	}

	return req, nil
}

// newOpID tags one duck-and-restore operation across logs and the lock file.
func newOpID() string {
	return ulid.Make().String()
}

func shouldDetach() bool {
	if os.Getenv(detachedEnv) != "" {
		return false
	}
	return globalOpts.detach || os.Getenv("NOTIDUCK_DETACH") == "1"
}

// respawnDetached re-executes the binary in a new session with stdio on
// /dev/null, the Go rendition of a daemonizing fork.
func respawnDetached() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer func() { _ = devNull.Close() }()

	child := exec.Command(exe, stripDetachFlags(os.Args[1:])...)
	child.Env = append(os.Environ(), detachedEnv+"=1")
	child.Stdin = devNull
	child.Stdout = devNull
	child.Stderr = devNull
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("detaching: %w", err)
	}

	logger.Debug("detached", "pid", child.Process.Pid)
	return nil
}

// stripDetachFlags drops the detach flag from the re-executed arguments.
func stripDetachFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-d" || a == "--detach" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// soundPlayer adapts *audio.Player to the orchestrator's interface.
type soundPlayer struct {
	player *audio.Player
}

func (s soundPlayer) Play(ctx context.Context, path string, volume int) (ducker.Playback, error) {
	pb, err := s.player.Play(ctx, path, volume)
	if err != nil {
		return nil, err
	}
	return pb, nil
}

// lockQueue feeds forwarded requests from the lock file into the
// orchestrator so they play while streams are still ducked.
type lockQueue struct {
	lock    *lockfile.File
	pending []string
}

func (q *lockQueue) Next() (string, bool) {
	if len(q.pending) == 0 {
		requests, err := q.lock.TakeRequests()
		if err != nil {
			return "", false
		}
		q.pending = requests
	}
	if len(q.pending) == 0 {
		return "", false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, true
}
