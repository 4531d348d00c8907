package ducker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/notiduck/notiduck/internal/fade"
	"github.com/notiduck/notiduck/internal/pulse"
)

// State is the orchestrator's position in the duck-and-restore cycle.
type State string

const (
	StateIdle         State = "idle"
	StateSnapshotting State = "snapshotting"
	StateFadingOut    State = "fading-out"
	StatePlaying      State = "playing"
	StateFadingIn     State = "fading-in"
	StateRestored     State = "restored"
)

// DefaultStepInterval is the target cadence for volume-set calls during a
// fade. The fade's total duration is computed from wall-clock time, so a
// slow audio server stretches steps, never the fade itself.
const DefaultStepInterval = 50 * time.Millisecond

// restoreTimeout bounds the final best-effort restoration pass so a dead
// backend cannot hang shutdown.
const restoreTimeout = 3 * time.Second

// StreamController enumerates and adjusts the audio server's playback
// streams. Implemented by pulse.Controller and by test fakes.
type StreamController interface {
	ListStreams(ctx context.Context) ([]pulse.Stream, error)
	SetVolume(ctx context.Context, id uint32, volume int) error
}

// Playback is an in-flight notification sound.
type Playback interface {
	Wait(ctx context.Context) error
}

// SoundPlayer starts asynchronous playback of a sound file.
type SoundPlayer interface {
	Play(ctx context.Context, path string, volume int) (Playback, error)
}

// Queue supplies additional sounds forwarded by other invocations while this
// one holds the audio session. Drained between playbacks, before fade-in.
type Queue interface {
	Next() (string, bool)
}

// Request is one complete duck-play-restore operation.
type Request struct {
	OpID       string
	SoundPath  string
	FadeOut    time.Duration
	FadeIn     time.Duration
	Volume     int // notification sound volume, percent
	DuckVolume int // floor other streams are faded down to, percent
}

// Orchestrator drives the duck-and-restore state machine against injected
// backends.
type Orchestrator struct {
	streams StreamController
	player  SoundPlayer
	logger  *slog.Logger

	queue   Queue
	step    time.Duration
	onState func(State)

	mu    sync.Mutex
	state State
}

// New creates an orchestrator. A nil logger falls back to slog.Default().
func New(streams StreamController, player SoundPlayer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		streams: streams,
		player:  player,
		logger:  logger,
		step:    DefaultStepInterval,
		state:   StateIdle,
	}
}

// SetQueue attaches a source of forwarded notification requests. Queued
// sounds play back-to-back while streams remain ducked.
func (o *Orchestrator) SetQueue(q Queue) {
	o.queue = q
}

// SetStepInterval overrides the fade step cadence. Intended for tests.
func (o *Orchestrator) SetStepInterval(step time.Duration) {
	if step > 0 {
		o.step = step
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (o *Orchestrator) OnStateChange(fn func(State)) {
	o.onState = fn
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	o.logger.Debug("state changed", "state", string(s))
	if o.onState != nil {
		o.onState(s)
	}
}

// Run executes one full operation. On return every snapshotted stream has
// been restored to its original volume, or the error is a
// *PartialRestoreError naming the streams that could not be confirmed.
// A *PlaybackError means the sound did not play but volumes were restored.
func (o *Orchestrator) Run(ctx context.Context, req Request) (err error) {
	log := o.logger.With("op_id", req.OpID)

	// Snapshot. Backend unavailability here is the one fatal error with no
	// side effects: nothing has been ducked yet.
	o.setState(StateSnapshotting)
	streams, err := o.streams.ListStreams(ctx)
	if err != nil {
		o.setState(StateIdle)
		return fmt.Errorf("snapshotting streams: %w", err)
	}

	guard := newRestoreGuard(o.streams, streams, log)
	log.Debug("snapshot taken", "streams", len(guard.snapshot))

	defer func() {
		// Best-effort restoration on every exit path. A no-op when the
		// fade-in already completed.
		if unconfirmed := guard.restore(); len(unconfirmed) > 0 {
			err = &PartialRestoreError{Unconfirmed: unconfirmed, Err: err}
		}
		o.setState(StateRestored)
	}()

	// Fade out to the duck floor.
	o.setState(StateFadingOut)
	out := make(map[uint32]fade.Spec, len(guard.snapshot))
	for id, vol := range guard.snapshot {
		out[id] = fade.Spec{
			Start:    float64(vol),
			End:      float64(pulse.ClampPercent(req.DuckVolume)),
			Duration: req.FadeOut,
		}
	}
	if err := o.fadeAll(ctx, guard, out); err != nil {
		return fmt.Errorf("fading out: %w", err)
	}

	// Play the notification, plus anything forwarded while we hold the
	// session. Playback failures must not skip restoration, so they are
	// held until the fade-in has run.
	o.setState(StatePlaying)
	playErr := o.playAll(ctx, req)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Fade back in from the duck floor to the snapshotted levels.
	o.setState(StateFadingIn)
	in := make(map[uint32]fade.Spec, len(guard.snapshot))
	for id, vol := range guard.snapshot {
		in[id] = fade.Spec{
			Start:    float64(pulse.ClampPercent(req.DuckVolume)),
			End:      float64(vol),
			Duration: req.FadeIn,
		}
	}
	if err := o.fadeAll(ctx, guard, in); err != nil {
		if playErr != nil {
			err = errors.Join(err, playErr)
		}
		return fmt.Errorf("fading in: %w", err)
	}

	// The fade-in's terminal points are exactly the snapshot volumes, so
	// the deferred pass has nothing left to do.
	guard.complete()

	if playErr != nil {
		return playErr
	}
	log.Debug("operation complete")
	return nil
}

// playAll plays the requested sound and drains the queue of any sounds
// forwarded mid-operation, keeping streams ducked between them. The first
// playback failure is remembered; later sounds are still attempted.
func (o *Orchestrator) playAll(ctx context.Context, req Request) error {
	var firstErr error
	path := req.SoundPath

	for {
		if err := o.playOne(ctx, path, req.Volume); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if firstErr == nil {
				firstErr = err
			}
		}

		if o.queue == nil {
			break
		}
		next, ok := o.queue.Next()
		if !ok {
			break
		}
		o.logger.Debug("playing forwarded request", "path", next)
		path = next
	}

	return firstErr
}

func (o *Orchestrator) playOne(ctx context.Context, path string, volume int) error {
	pb, err := o.player.Play(ctx, path, volume)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PlaybackError{Path: path, Err: err}
	}
	if err := pb.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PlaybackError{Path: path, Err: err}
	}
	return nil
}

// fadeAll drives one ramp per stream, applying points at the step cadence
// until every ramp has emitted its terminal value. Streams that disappear
// are dropped from this and all later phases; any other set failure is
// fatal (the deferred guard still runs).
func (o *Orchestrator) fadeAll(ctx context.Context, guard *restoreGuard, specs map[uint32]fade.Spec) error {
	ramps := make(map[uint32]*fade.Ramp, len(specs))
	ids := make([]uint32, 0, len(specs))
	for id, spec := range specs {
		ramps[id] = fade.New(spec)
		ids = append(ids, id)
	}

	for len(ramps) > 0 {
		for _, id := range ids {
			ramp, ok := ramps[id]
			if !ok {
				continue
			}

			point, ok := ramp.Next()
			if !ok {
				delete(ramps, id)
				continue
			}

			vol := int(math.Round(point.Volume))
			if err := o.streams.SetVolume(ctx, id, vol); err != nil {
				if errors.Is(err, pulse.ErrStreamNotFound) {
					// Stream went away: nothing to duck, nothing to restore.
					o.logger.Debug("stream vanished during fade", "id", id)
					delete(ramps, id)
					guard.drop(id)
					continue
				}
				return err
			}

			if ramp.Done() {
				delete(ramps, id)
			}
		}

		if len(ramps) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.step):
		}
	}

	return nil
}

// restoreGuard is the restoration obligation acquired at snapshot time. Its
// release happens exactly once: either disarmed by a completed fade-in or
// fired as a single best-effort pass over every remaining stream.
type restoreGuard struct {
	streams  StreamController
	logger   *slog.Logger
	once     sync.Once
	mu       sync.Mutex
	snapshot map[uint32]int
}

func newRestoreGuard(streams StreamController, listed []pulse.Stream, logger *slog.Logger) *restoreGuard {
	snapshot := make(map[uint32]int, len(listed))
	for _, s := range listed {
		// Muted streams stay muted; there is nothing audible to duck and
		// forcing a volume on them would be a user-visible change.
		if s.Muted {
			continue
		}
		snapshot[s.ID] = s.Volume
	}
	return &restoreGuard{streams: streams, logger: logger, snapshot: snapshot}
}

// drop removes a vanished stream from the restoration set.
func (g *restoreGuard) drop(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.snapshot, id)
}

// complete marks the obligation as already satisfied by the fade-in.
func (g *restoreGuard) complete() {
	g.once.Do(func() {})
}

// restore performs the one-shot restoration pass, returning the ids of
// streams whose restoration could not be confirmed. Per-stream disappearance
// is not a failure. Runs against a fresh context so cancellation of the
// operation cannot cancel the cleanup it exists to guarantee.
func (g *restoreGuard) restore() []uint32 {
	var unconfirmed []uint32

	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()

		g.mu.Lock()
		snapshot := make(map[uint32]int, len(g.snapshot))
		for id, vol := range g.snapshot {
			snapshot[id] = vol
		}
		g.mu.Unlock()

		for id, vol := range snapshot {
			err := g.streams.SetVolume(ctx, id, vol)
			switch {
			case err == nil:
			case errors.Is(err, pulse.ErrStreamNotFound):
				// Gone streams need no restoration.
			default:
				g.logger.Warn("could not restore stream volume",
					"id", id, "volume", vol, "error", err)
				unconfirmed = append(unconfirmed, id)
			}
		}
	})

	return unconfirmed
}
