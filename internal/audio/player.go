package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Player decodes and plays notification sounds on the default output device.
type Player struct {
	mu     sync.Mutex
	logger *slog.Logger

	// Whether the speaker has been initialized
	initialized bool

	// Sample rate the speaker was initialized with
	sampleRate beep.SampleRate
}

// Playback is a handle to one in-flight sound. The done channel closes when
// the last sample has been handed to the speaker.
type Playback struct {
	done <-chan struct{}
	path string
}

// NewPlayer creates a new audio player.
func NewPlayer(logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}

	return &Player{
		logger:     logger,
		sampleRate: beep.SampleRate(44100),
	}
}

// Play starts playback of the given file at the given output volume (0-100
// percent). It returns once playback has been initiated; use the returned
// handle's Wait to block until completion.
// Supports WAV, OGG, and MP3 formats.
func (p *Player) Play(ctx context.Context, path string, volume int) (*Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamer, format, err := p.decode(path)
	if err != nil {
		return nil, err
	}

	if err := p.ensureInitialized(format.SampleRate); err != nil {
		_ = streamer.Close()
		return nil, err
	}

	p.mu.Lock()
	sampleRate := p.sampleRate
	p.mu.Unlock()

	var out beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		out = beep.Resample(4, format.SampleRate, sampleRate, out)
	}

	if volume < 100 {
		out = &effects.Volume{
			Streamer: out,
			Base:     2,
			Volume:   percentToVolume(volume),
			Silent:   volume <= 0,
		}
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(out, beep.Callback(func() {
		_ = streamer.Close()
		close(done)
	})))

	p.logger.Debug("playback started", "path", path, "volume", volume)
	return &Playback{done: done, path: path}, nil
}

// Wait blocks until the playback has finished or the context is cancelled.
func (pb *Playback) Wait(ctx context.Context) error {
	select {
	case <-pb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decode opens a sound file and returns a streamer for it.
func (p *Player) decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to open sound file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))

	var streamer beep.StreamSeekCloser
	var format beep.Format

	switch ext {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format: %s", ext)
	}

	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("failed to decode sound: %w", err)
	}

	return streamer, format, nil
}

// ensureInitialized initializes the speaker if not already done.
func (p *Player) ensureInitialized(sampleRate beep.SampleRate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	// Use a reasonable buffer size for low latency
	bufferSize := sampleRate.N(time.Millisecond * 100)

	if err := speaker.Init(sampleRate, bufferSize); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}

	p.sampleRate = sampleRate
	p.initialized = true
	p.logger.Debug("speaker initialized", "sample_rate", sampleRate)
	return nil
}

// Close stops all playback and releases the output device.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		speaker.Close()
		p.initialized = false
	}
	p.logger.Debug("audio player closed")
}

// percentToVolume converts a 0-100 percent to beep's base-2 volume exponent.
// 50% comes out one octave (-1.0) below full volume.
func percentToVolume(percent int) float64 {
	if percent <= 0 {
		return -10 // effectively silent; Silent flag covers the rest
	}
	return math.Log2(float64(percent) / 100.0)
}
