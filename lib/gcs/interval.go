package gcs

import "time"

// Interval yields successive retransmission timeouts.
type Interval interface {
	// Next returns the next timeout. Values never decrease.
	Next() time.Duration

	// Copy returns a fresh interval starting from the first value.
	Copy() Interval
}

// DefaultInterval is used when a window is created without an interval.
func DefaultInterval() Interval {
	return NewStaticInterval(time.Second, 2*time.Second, 4*time.Second, 8*time.Second)
}

// StaticInterval walks a fixed list of timeouts and repeats the last one forever.
type StaticInterval struct {
	values []time.Duration
	next   int
}

// NewStaticInterval creates an interval over values. Values smaller than their
// predecessor are raised to it, an empty list yields one second.
func NewStaticInterval(values ...time.Duration) *StaticInterval {
	if len(values) == 0 {
		values = []time.Duration{time.Second}
	}
	vs := make([]time.Duration, len(values))
	for i, v := range values {
		if i > 0 && v < vs[i-1] {
			v = vs[i-1]
		}
		vs[i] = v
	}
	return &StaticInterval{values: vs}
}

func (s *StaticInterval) Next() time.Duration {
	v := s.values[s.next]
	if s.next < len(s.values)-1 {
		s.next++
	}
	return v
}

func (s *StaticInterval) Copy() Interval {
	return &StaticInterval{values: s.values}
}

// ExponentialInterval doubles its timeout on every call up to max.
type ExponentialInterval struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewExponentialInterval creates an interval starting at initial and capped at max.
func NewExponentialInterval(initial, max time.Duration) *ExponentialInterval {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &ExponentialInterval{initial: initial, max: max}
}

func (e *ExponentialInterval) Next() time.Duration {
	if e.current == 0 {
		e.current = e.initial
		return e.current
	}
	e.current *= 2
	if e.current > e.max {
		e.current = e.max
	}
	return e.current
}

func (e *ExponentialInterval) Copy() Interval {
	return &ExponentialInterval{initial: e.initial, max: e.max}
}
