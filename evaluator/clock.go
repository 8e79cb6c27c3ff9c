package evaluator

import "time"

// Clock supplies the Unix timestamp the dispatcher attaches to every
// context as $flagd.timestamp. Injected so tests can fix the clock and so
// a wasip1 host can supply its own monotonic source, per spec.md §5's
// "host-provided imports" clock.
type Clock interface {
	NowUnixSeconds() int64
}

type systemClock struct{}

func (systemClock) NowUnixSeconds() int64 { return time.Now().Unix() }
