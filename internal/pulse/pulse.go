// Package pulse controls playback streams on a PulseAudio or PipeWire audio
// server. The implementation shells out to pactl; the textual interface is
// an implementation detail that never leaks past this package's types.
package pulse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Sentinel errors for backend conditions callers are expected to branch on.
var (
	// ErrBackendUnavailable means the audio server cannot be reached at all.
	ErrBackendUnavailable = errors.New("audio server unavailable")

	// ErrStreamNotFound means the stream disappeared between enumeration and
	// this call. Callers treat it as "nothing to do" for that stream.
	ErrStreamNotFound = errors.New("stream not found")
)

// Stream is one active playback stream (a sink-input) on the audio server.
type Stream struct {
	ID     uint32
	App    string
	Volume int // percent, 0-100
	Muted  bool
}

// runner executes an external command and returns its stdout. Swapped out in
// tests so no pactl binary is required.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Controller talks to the audio server via pactl.
type Controller struct {
	logger *slog.Logger
	run    runner
}

// NewController creates a pactl-backed stream controller.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger: logger,
		run:    runCommand,
	}
}

// ListStreams returns all active playback streams with their current volume
// and mute state. Returns ErrBackendUnavailable if the server is unreachable.
func (c *Controller) ListStreams(ctx context.Context) ([]Stream, error) {
	out, err := c.run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return nil, classify(err)
	}

	streams, err := parseSinkInputs(out)
	if err != nil {
		return nil, fmt.Errorf("parsing sink-inputs: %w", err)
	}

	c.logger.Debug("listed streams", "count", len(streams))
	return streams, nil
}

// GetVolume returns the current volume percent of a single stream.
func (c *Controller) GetVolume(ctx context.Context, id uint32) (int, error) {
	streams, err := c.ListStreams(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range streams {
		if s.ID == id {
			return s.Volume, nil
		}
	}
	return 0, fmt.Errorf("sink-input %d: %w", id, ErrStreamNotFound)
}

// MaxVolume is the server's native ceiling. Sink-inputs can legitimately
// sit above 100% (PulseAudio frontends allow boosting to about 150%), and
// restoration must hand boosted streams back at exactly their snapshot
// level.
const MaxVolume = 150

// SetVolume sets a stream's volume. The value is clamped to
// [0, MaxVolume] before it is applied. Returns ErrStreamNotFound if the
// stream has disappeared.
func (c *Controller) SetVolume(ctx context.Context, id uint32, volume int) error {
	volume = ClampPercent(volume)

	_, err := c.run(ctx, "pactl", "set-sink-input-volume",
		fmt.Sprintf("%d", id), fmt.Sprintf("%d%%", volume))
	if err != nil {
		return classify(err)
	}
	return nil
}

// ClampPercent bounds a volume to the audio server's valid percent range.
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// classify maps pactl failures onto the package's sentinel errors.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No such entity"),
		strings.Contains(msg, "Failed to get sink input information"):
		return fmt.Errorf("%w: %v", ErrStreamNotFound, err)
	case errors.Is(err, exec.ErrNotFound),
		strings.Contains(msg, "Connection refused"),
		strings.Contains(msg, "Connection failure"),
		strings.Contains(msg, "Connection terminated"),
		strings.Contains(msg, "pa_context_connect"):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return err
	}
}

// runCommand executes a command and returns stdout. Failures include stderr
// text so classify can recognise the server's error strings.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
