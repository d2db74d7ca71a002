package anchor

import (
	"fmt"
	"sync"
	"time"
)

// Clock is the subset of MasterClock that Anchor depends on, so tests can
// substitute a fake without mmap'd shared memory.
type Clock interface {
	Read() (Snapshot, error)
}

// AnchorSample is one sender-declared timing anchor: the sender asserts
// that RTP timestamp RTPTimestamp corresponds to NetworkNanos in the
// shared master clock's uptime domain. Samples enter only through Update;
// no request handler in this module calls it.
type AnchorSample struct {
	RTPTimestamp uint32
	NetworkNanos int64
	ReceivedAt   time.Time
}

type slot struct {
	sample AnchorSample
	valid  bool
}

// Anchor holds the RECENT/LAST/ACTUAL fusion state: RECENT is the
// newest sample received but not yet promoted, LAST is the previously
// active anchor, and ACTUAL is the one rtp_to_local currently maps
// through. A sample is promoted RECENT -> ACTUAL only once the master
// clock has reported itself stable for at least stableAfter and the
// sample itself is younger than maxSampleAge. While the clock is
// unstable, has not yet been stable for stableAfter, or the sample is
// older than maxSampleAge, ACTUAL is cleared, so callers see no anchor
// until a later evaluation promotes one again.
type Anchor struct {
	mu sync.Mutex

	clock        Clock
	sampleRate   uint32
	stableAfter  time.Duration
	maxSampleAge time.Duration

	recent, last, actual slot
	masterStableSince    time.Time
	masterWasStable      bool
}

// NewAnchor builds an Anchor reading master-clock stability from clock.
func NewAnchor(clock Clock, sampleRate uint32, stableAfter, maxSampleAge time.Duration) *Anchor {
	return &Anchor{
		clock:        clock,
		sampleRate:   sampleRate,
		stableAfter:  stableAfter,
		maxSampleAge: maxSampleAge,
	}
}

// Update records a newly-received anchor sample and re-runs the fusion
// rule against the master clock's current stability.
func (a *Anchor) Update(sample AnchorSample, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recent = slot{sample: sample, valid: true}
	return a.fuseLocked(now)
}

// Reevaluate re-runs the fusion rule without a new sample, e.g. on a
// render-loop tick, so ACTUAL ages out even if no new sample arrives.
func (a *Anchor) Reevaluate(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fuseLocked(now)
}

func (a *Anchor) fuseLocked(now time.Time) error {
	snap, err := a.clock.Read()
	if err != nil {
		a.masterWasStable = false
		a.actual = slot{}
		return fmt.Errorf("anchor: master clock read failed: %w", err)
	}

	if snap.Stable {
		if !a.masterWasStable {
			a.masterStableSince = now
		}
		a.masterWasStable = true
	} else {
		a.masterWasStable = false
		a.actual = slot{}
		return nil
	}

	stableFor := now.Sub(a.masterStableSince)
	if stableFor < a.stableAfter {
		a.actual = slot{}
		return nil
	}

	if !a.recent.valid {
		return nil
	}
	if now.Sub(a.recent.sample.ReceivedAt) > a.maxSampleAge {
		a.actual = slot{}
		return nil
	}

	a.last = a.actual
	a.actual = a.recent
	return nil
}

// Actual returns the currently fused anchor sample. ok is false when no
// sample is currently trustworthy (cold start, clock unstable, or the
// last sample aged out) — callers substitute silence in that case.
func (a *Anchor) Actual() (AnchorSample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actual.sample, a.actual.valid
}

// RTPToLocal maps an RTP timestamp to a local wall-clock time through the
// currently fused anchor and the master clock's uptime/epoch pairing. ok
// is false if there is no valid ACTUAL anchor.
func (a *Anchor) RTPToLocal(rtpTimestamp uint32) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.actual.valid {
		return time.Time{}, false
	}

	snap, err := a.clock.Read()
	if err != nil {
		return time.Time{}, false
	}

	deltaSamples := int64(int32(rtpTimestamp - a.actual.sample.RTPTimestamp))
	deltaNanos := deltaSamples * int64(time.Second) / int64(a.sampleRate)

	sampleLocal := snap.EpochNanos - snap.MasterUptimeNanos + a.actual.sample.NetworkNanos
	return time.Unix(0, sampleLocal+deltaNanos), true
}
