package ducker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notiduck/notiduck/internal/pulse"
)

// recorder is a shared ordered log of everything the fakes observe.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type setCall struct {
	id  uint32
	vol int
}

// fakeController is a scriptable StreamController.
type fakeController struct {
	mu      sync.Mutex
	rec     *recorder
	streams []pulse.Stream
	listErr error

	sets []setCall

	// vanishAfter makes SetVolume return ErrStreamNotFound for a stream
	// once it has already accepted this many sets for it.
	vanishAfter map[uint32]int

	// failAllAfter makes every SetVolume fail with a generic error once
	// this many total sets have been accepted. Zero disables.
	failAllAfter int

	perStream map[uint32]int
}

func newFakeController(rec *recorder, streams ...pulse.Stream) *fakeController {
	return &fakeController{
		rec:         rec,
		streams:     streams,
		vanishAfter: make(map[uint32]int),
		perStream:   make(map[uint32]int),
	}
}

func (f *fakeController) ListStreams(ctx context.Context) ([]pulse.Stream, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]pulse.Stream(nil), f.streams...), nil
}

func (f *fakeController) SetVolume(ctx context.Context, id uint32, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit, ok := f.vanishAfter[id]; ok && f.perStream[id] >= limit {
		return fmt.Errorf("sink-input %d: %w", id, pulse.ErrStreamNotFound)
	}
	if f.failAllAfter > 0 && len(f.sets) >= f.failAllAfter {
		return errors.New("connection terminated")
	}

	f.sets = append(f.sets, setCall{id: id, vol: volume})
	f.perStream[id]++
	if f.rec != nil {
		f.rec.add("set %d %d", id, volume)
	}
	return nil
}

// volumesFor returns the ordered volume trace applied to one stream.
func (f *fakeController) volumesFor(id uint32) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var vols []int
	for _, c := range f.sets {
		if c.id == id {
			vols = append(vols, c.vol)
		}
	}
	return vols
}

type fakePlayback struct {
	waitErr error
	block   bool
}

func (p *fakePlayback) Wait(ctx context.Context) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.waitErr
}

type fakePlayer struct {
	mu      sync.Mutex
	rec     *recorder
	playErr error
	waitErr error
	block   bool
	plays   []string
	volumes []int
}

func (f *fakePlayer) Play(ctx context.Context, path string, volume int) (Playback, error) {
	f.mu.Lock()
	f.plays = append(f.plays, path)
	f.volumes = append(f.volumes, volume)
	f.mu.Unlock()

	if f.rec != nil {
		f.rec.add("play %s", path)
	}
	if f.playErr != nil {
		return nil, f.playErr
	}
	return &fakePlayback{waitErr: f.waitErr, block: f.block}, nil
}

type sliceQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *sliceQueue) Next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func newTestOrchestrator(ctrl StreamController, player SoundPlayer) *Orchestrator {
	o := New(ctrl, player, nil)
	o.SetStepInterval(time.Millisecond)
	return o
}

func testRequest() Request {
	return Request{
		OpID:       "01TEST",
		SoundPath:  "/tmp/ding.ogg",
		FadeOut:    20 * time.Millisecond,
		FadeIn:     15 * time.Millisecond,
		Volume:     60,
		DuckVolume: 5,
	}
}

func TestRun_RoundTripRestoresOriginals(t *testing.T) {
	ctrl := newFakeController(nil,
		pulse.Stream{ID: 1, App: "a", Volume: 80},
		pulse.Stream{ID: 2, App: "b", Volume: 40},
	)
	player := &fakePlayer{}
	o := newTestOrchestrator(ctrl, player)

	err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	// The notification played at the requested volume.
	require.Equal(t, []string{"/tmp/ding.ogg"}, player.plays)
	assert.Equal(t, []int{60}, player.volumes)

	for id, original := range map[uint32]int{1: 80, 2: 40} {
		trace := ctrl.volumesFor(id)
		require.NotEmpty(t, trace, "stream %d", id)

		// Down to the floor, then back up, ending exactly at the original.
		assert.Equal(t, original, trace[0], "stream %d starts at original", id)
		assert.Equal(t, original, trace[len(trace)-1], "stream %d restored", id)

		turned := false
		for i := 1; i < len(trace); i++ {
			if trace[i] < trace[i-1] {
				assert.False(t, turned, "stream %d decreased after fade-in began", id)
			} else if trace[i] > trace[i-1] {
				turned = true
			}
		}
		assert.Contains(t, trace, 5, "stream %d reached the duck floor", id)
	}

	assert.Equal(t, StateRestored, o.State())
}

func TestRun_BoostedStreamRestoredExactly(t *testing.T) {
	// Sink-inputs can sit above 100%; the round trip must end at the
	// snapshot level, not at a 100% clamp.
	ctrl := newFakeController(nil, pulse.Stream{ID: 3, Volume: 120})
	o := newTestOrchestrator(ctrl, &fakePlayer{})

	require.NoError(t, o.Run(context.Background(), testRequest()))

	trace := ctrl.volumesFor(3)
	require.NotEmpty(t, trace)
	assert.Equal(t, 120, trace[0])
	assert.Equal(t, 120, trace[len(trace)-1])
}

func TestRun_StateTransitionsInOrder(t *testing.T) {
	ctrl := newFakeController(nil, pulse.Stream{ID: 1, Volume: 50})
	o := newTestOrchestrator(ctrl, &fakePlayer{})

	var states []State
	o.OnStateChange(func(s State) { states = append(states, s) })

	require.NoError(t, o.Run(context.Background(), testRequest()))
	assert.Equal(t, []State{
		StateSnapshotting, StateFadingOut, StatePlaying, StateFadingIn, StateRestored,
	}, states)
}

func TestRun_MutedStreamsLeftAlone(t *testing.T) {
	ctrl := newFakeController(nil,
		pulse.Stream{ID: 1, Volume: 80},
		pulse.Stream{ID: 9, Volume: 70, Muted: true},
	)
	o := newTestOrchestrator(ctrl, &fakePlayer{})

	require.NoError(t, o.Run(context.Background(), testRequest()))
	assert.Empty(t, ctrl.volumesFor(9), "muted stream must not be touched")
	assert.NotEmpty(t, ctrl.volumesFor(1))
}

func TestRun_PlaybackFailureStillRestores(t *testing.T) {
	ctrl := newFakeController(nil, pulse.Stream{ID: 1, Volume: 80})
	player := &fakePlayer{playErr: errors.New("decode failed")}
	o := newTestOrchestrator(ctrl, player)

	err := o.Run(context.Background(), testRequest())

	var perr *PlaybackError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/tmp/ding.ogg", perr.Path)

	var rerr *PartialRestoreError
	assert.False(t, errors.As(err, &rerr), "restoration succeeded, error must be playback only")

	trace := ctrl.volumesFor(1)
	require.NotEmpty(t, trace)
	assert.Equal(t, 80, trace[len(trace)-1], "volume restored despite playback failure")
}

func TestRun_WaitFailureIsPlaybackError(t *testing.T) {
	ctrl := newFakeController(nil, pulse.Stream{ID: 1, Volume: 80})
	player := &fakePlayer{waitErr: errors.New("underrun")}
	o := newTestOrchestrator(ctrl, player)

	err := o.Run(context.Background(), testRequest())

	var perr *PlaybackError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 80, lastVolume(t, ctrl, 1))
}

func TestRun_BackendUnavailableNoSideEffects(t *testing.T) {
	ctrl := newFakeController(nil)
	ctrl.listErr = fmt.Errorf("pactl: %w", pulse.ErrBackendUnavailable)
	player := &fakePlayer{}
	o := newTestOrchestrator(ctrl, player)

	err := o.Run(context.Background(), testRequest())
	require.ErrorIs(t, err, pulse.ErrBackendUnavailable)

	assert.Empty(t, ctrl.sets, "no volume must be touched when enumeration fails")
	assert.Empty(t, player.plays, "no sound must play when enumeration fails")
}

func TestRun_StreamVanishingMidFadeIsNotAnError(t *testing.T) {
	ctrl := newFakeController(nil,
		pulse.Stream{ID: 1, Volume: 80},
		pulse.Stream{ID: 2, Volume: 40},
	)
	// Stream 2 disappears after its second volume set.
	ctrl.vanishAfter[2] = 2

	o := newTestOrchestrator(ctrl, &fakePlayer{})
	err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 80, lastVolume(t, ctrl, 1), "surviving stream fully restored")
	assert.Len(t, ctrl.volumesFor(2), 2, "vanished stream receives no further sets")
}

func TestRun_BackendLossMidFadeReportsPartialRestore(t *testing.T) {
	ctrl := newFakeController(nil,
		pulse.Stream{ID: 1, Volume: 80},
		pulse.Stream{ID: 2, Volume: 40},
	)
	ctrl.failAllAfter = 3

	o := newTestOrchestrator(ctrl, &fakePlayer{})
	err := o.Run(context.Background(), testRequest())

	var rerr *PartialRestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Len(t, rerr.Unconfirmed, 2)
	assert.Error(t, rerr.Err, "the interrupting failure is carried along")
}

func TestRun_NoStreamsStillPlaysSound(t *testing.T) {
	ctrl := newFakeController(nil)
	player := &fakePlayer{}
	o := newTestOrchestrator(ctrl, player)

	err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/ding.ogg"}, player.plays)
	assert.Empty(t, ctrl.sets)
}

func TestRun_ZeroDurationFades(t *testing.T) {
	ctrl := newFakeController(nil, pulse.Stream{ID: 1, Volume: 80})
	o := newTestOrchestrator(ctrl, &fakePlayer{})

	req := testRequest()
	req.FadeOut = 0
	req.FadeIn = 0

	require.NoError(t, o.Run(context.Background(), req))
	assert.Equal(t, []int{5, 80}, ctrl.volumesFor(1),
		"zero-duration fades apply the end volume in a single step")
}

func TestRun_QueueDrainsBeforeFadeIn(t *testing.T) {
	rec := &recorder{}
	ctrl := newFakeController(rec, pulse.Stream{ID: 1, Volume: 80})
	player := &fakePlayer{rec: rec}
	o := newTestOrchestrator(ctrl, player)
	o.SetQueue(&sliceQueue{items: []string{"/tmp/second.wav"}})

	require.NoError(t, o.Run(context.Background(), testRequest()))
	require.Equal(t, []string{"/tmp/ding.ogg", "/tmp/second.wav"}, player.plays)

	// Both plays happen while ducked: no upward volume set may precede the
	// second play.
	events := rec.all()
	secondPlay := -1
	for i, e := range events {
		if e == "play /tmp/second.wav" {
			secondPlay = i
			break
		}
	}
	require.GreaterOrEqual(t, secondPlay, 0)

	prevVol := -1
	for _, e := range events[:secondPlay] {
		var id uint32
		var vol int
		if n, _ := fmt.Sscanf(e, "set %d %d", &id, &vol); n == 2 {
			if prevVol >= 0 {
				assert.LessOrEqual(t, vol, prevVol,
					"no fade-in step may run before the queue is drained")
			}
			prevVol = vol
		}
	}

	assert.Equal(t, 80, lastVolume(t, ctrl, 1))
}

func TestRun_CancellationRestoresSynchronously(t *testing.T) {
	ctrl := newFakeController(nil, pulse.Stream{ID: 1, Volume: 80})
	player := &fakePlayer{block: true}
	o := newTestOrchestrator(ctrl, player)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, testRequest()) }()

	// Give the run time to duck and start playing, then interrupt it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	assert.Equal(t, 80, lastVolume(t, ctrl, 1),
		"guard must restore volumes before the run returns")
}

func lastVolume(t *testing.T, ctrl *fakeController, id uint32) int {
	t.Helper()
	trace := ctrl.volumesFor(id)
	require.NotEmpty(t, trace, "stream %d has no volume trace", id)
	return trace[len(trace)-1]
}
