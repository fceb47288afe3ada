package realtime

import "time"

// Backoff is a capped exponential delay between reconnect attempts.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

var DefaultBackoff = Backoff{
	Initial:    500 * time.Millisecond,
	Multiplier: 2,
	Max:        30 * time.Second,
}

// Next returns the delay before attempt n, counting from zero.
func (b Backoff) Next(n int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}

	d := float64(b.Initial)
	for i := 0; i < n; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}
