// Package fade computes time-based volume ramps.
// A ramp is a lazy, finite sequence of (elapsed, volume) points interpolated
// linearly over wall-clock time, so slow consumers never stretch the fade's
// real-world duration.
package fade

import "time"

// Spec describes a single fade from Start to End over Duration.
// Volumes are in whatever scalar unit the consumer applies (percent here).
type Spec struct {
	Start    float64
	End      float64
	Duration time.Duration
}

// Point is one step of a fade: the volume to apply at an elapsed offset.
type Point struct {
	Elapsed time.Duration
	Volume  float64
}

// Ramp produces fade points on demand. The clock starts on the first call
// to Next, and every subsequent point is computed from actual elapsed time,
// never from a step counter. The final point is always exactly
// (Spec.Duration, Spec.End).
type Ramp struct {
	spec    Spec
	now     func() time.Time
	started bool
	start   time.Time
	last    time.Duration
	done    bool
}

// New creates a ramp for the given spec using the system clock.
func New(spec Spec) *Ramp {
	return NewWithClock(spec, time.Now)
}

// NewWithClock creates a ramp with an injectable clock. Tests use this to
// drive the ramp deterministically.
func NewWithClock(spec Spec, now func() time.Time) *Ramp {
	return &Ramp{spec: spec, now: now}
}

// Next returns the next point of the ramp. The second return value is false
// once the ramp is exhausted; the final emitted point carries exactly the
// spec's end volume at elapsed == duration.
func (r *Ramp) Next() (Point, bool) {
	if r.done {
		return Point{}, false
	}

	if !r.started {
		r.started = true
		r.start = r.now()

		if r.spec.Duration <= 0 {
			// Immediate fade: a single point at the end volume.
			r.done = true
			return Point{Elapsed: 0, Volume: r.spec.End}, true
		}
		return Point{Elapsed: 0, Volume: r.spec.Start}, true
	}

	elapsed := r.now().Sub(r.start)
	if elapsed < r.last {
		// Clocks are monotonic on Go's time package, but never emit a
		// point that moves backward regardless.
		elapsed = r.last
	}
	r.last = elapsed

	if elapsed >= r.spec.Duration {
		r.done = true
		return Point{Elapsed: r.spec.Duration, Volume: r.spec.End}, true
	}

	return Point{Elapsed: elapsed, Volume: r.at(elapsed)}, true
}

// Done reports whether the ramp has emitted its final point.
func (r *Ramp) Done() bool {
	return r.done
}

// at interpolates the volume for a given elapsed offset.
func (r *Ramp) at(elapsed time.Duration) float64 {
	frac := float64(elapsed) / float64(r.spec.Duration)
	return r.spec.Start + (r.spec.End-r.spec.Start)*frac
}
