package player

import "time"

// Policy holds the timing thresholds of the controller.
type Policy struct {
	// CheckInterval is how often stalls are evaluated.
	CheckInterval time.Duration
	// LongStall without a fragment while below target forces one reload.
	LongStall time.Duration
	// ShortStall without a fragment, with at least one loaded, accepts
	// partial readiness.
	ShortStall time.Duration
	// Retention is how far behind the playback position buffer is kept.
	Retention time.Duration
	// TrimThrottle bounds how often position updates trigger a trim.
	TrimThrottle time.Duration
	// ResumePause is waited after a buffer-full trim before loading resumes.
	ResumePause time.Duration
	// RetryDelay is waited before a network reload or media recovery.
	RetryDelay time.Duration
	// PlayDelay is waited between reaching readiness and issuing play.
	PlayDelay time.Duration
}

const (
	DefaultCheckInterval = 5 * time.Second
	DefaultLongStall     = 30 * time.Second
	DefaultShortStall    = 10 * time.Second
	DefaultRetention     = 5 * time.Second
	DefaultTrimThrottle  = 10 * time.Second
	DefaultResumePause   = 1 * time.Second
	DefaultRetryDelay    = 2 * time.Second
	DefaultPlayDelay     = 500 * time.Millisecond
)

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		CheckInterval: DefaultCheckInterval,
		LongStall:     DefaultLongStall,
		ShortStall:    DefaultShortStall,
		Retention:     DefaultRetention,
		TrimThrottle:  DefaultTrimThrottle,
		ResumePause:   DefaultResumePause,
		RetryDelay:    DefaultRetryDelay,
		PlayDelay:     DefaultPlayDelay,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.CheckInterval <= 0 {
		p.CheckInterval = d.CheckInterval
	}
	if p.LongStall <= 0 {
		p.LongStall = d.LongStall
	}
	if p.ShortStall <= 0 {
		p.ShortStall = d.ShortStall
	}
	if p.Retention <= 0 {
		p.Retention = d.Retention
	}
	if p.TrimThrottle <= 0 {
		p.TrimThrottle = d.TrimThrottle
	}
	if p.ResumePause <= 0 {
		p.ResumePause = d.ResumePause
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = d.RetryDelay
	}
	if p.PlayDelay <= 0 {
		p.PlayDelay = d.PlayDelay
	}
	return p
}
