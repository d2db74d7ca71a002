// Package racked implements C5: an ordered staging area between DSP
// completion and render dispatch. Frames are partitioned into spools —
// contiguous runs of adjacent sequence numbers — and a spool breaks
// whenever a gap is observed (a 24-bit sequence rollover counts as
// adjacent and does not break one), the same "new spool on
// discontinuity" structure the pack's dialog/transaction layers use to
// group a session's in-order messages.
package racked

import (
	"math"
	"sync"
	"time"

	"github.com/pierre-project/pierre/pkg/frame"
)

// Entry is the queue's view of one frame: just enough identity and
// timing to order it and answer peek_due, plus the Frame handle itself
// so the caller can finish its lifecycle once it is dispatched.
type Entry struct {
	Seq   uint32
	TS    uint32
	Frame *frame.Frame
}

// Anchor is the subset of anchor.Anchor peek_due needs: mapping an RTP
// timestamp to a local render deadline.
type Anchor interface {
	RTPToLocal(rtpTimestamp uint32) (time.Time, bool)
}

// FlushRequest is a half-open discard window: every frame with
// seq <= UntilSeq AND ts <= UntilTS is dropped.
type FlushRequest struct {
	UntilSeq uint32
	UntilTS  uint32
}

// covers reports whether e falls inside the flush window.
func (r FlushRequest) covers(e Entry) bool {
	return seqLE(e.Seq, r.UntilSeq) && tsLE(e.TS, r.UntilTS)
}

// seqLE compares 24-bit sequence numbers the wraparound-aware way, same
// rule as frame.SeqDelta: a <= b iff b-a is a non-negative signed delta.
func seqLE(a, b uint32) bool {
	return frame.SeqDelta(a, b) >= 0
}

// tsLE compares RTP timestamps allowing for 32-bit wraparound. Wraparound
// math only makes sense when both sides are within half a cycle of each
// other; a FLUSH's until_ts is sometimes the "flush everything currently
// buffered" sentinel (math.MaxUint32), which is not a point on the
// wraparound circle at all but an absolute upper bound, so it's special
// cased rather than run through the signed-delta comparison.
func tsLE(a, b uint32) bool {
	if b == math.MaxUint32 {
		return true
	}
	return int32(a-b) <= 0
}

type spool struct {
	entries []Entry
}

// Racked holds zero or more spools in first-seen order, plus any
// FlushRequest received before its until_seq frame has arrived.
type Racked struct {
	mu           sync.Mutex
	spools       []*spool
	pendingFlush []FlushRequest
	tolerance    time.Duration
}

// New builds an empty Racked queue. tolerance mirrors
// config.RenderConfig.Tolerance and bounds how far from "now" a frame's
// render deadline may sit and still count as due.
func New(tolerance time.Duration) *Racked {
	return &Racked{tolerance: tolerance}
}

// Insert adds a decoded/DSP-complete frame. If seq is contiguous with the
// last spool's tail, it is appended there; otherwise a new spool starts.
// Any pending FlushRequest is re-applied immediately so a latched flush
// whose target frame just arrived takes effect without a separate call.
func (r *Racked) Insert(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fr := range r.pendingFlush {
		if fr.covers(e) {
			_ = e.Frame.Flush()
			return
		}
	}

	if len(r.spools) > 0 {
		tail := r.spools[len(r.spools)-1]
		last := tail.entries[len(tail.entries)-1]
		if frame.SeqDelta(last.Seq, e.Seq) == 1 {
			tail.entries = append(tail.entries, e)
			return
		}
	}
	r.spools = append(r.spools, &spool{entries: []Entry{e}})
}

// Flush discards every currently-held frame the request covers and
// removes spools that become empty. If req.UntilSeq is beyond every
// sequence number currently known, the request is also latched and
// applied to future Insert calls (the drop-on-insert rule).
func (r *Racked) Flush(req FlushRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	highestSeen, any := r.highestSeqLocked()
	if !any || frame.SeqDelta(highestSeen, req.UntilSeq) > 0 {
		r.pendingFlush = append(r.pendingFlush, req)
	}

	kept := r.spools[:0]
	for _, sp := range r.spools {
		remaining := sp.entries[:0]
		for _, e := range sp.entries {
			if req.covers(e) {
				_ = e.Frame.Flush()
				continue
			}
			remaining = append(remaining, e)
		}
		if len(remaining) > 0 {
			sp.entries = remaining
			kept = append(kept, sp)
		}
	}
	r.spools = kept
}

func (r *Racked) highestSeqLocked() (uint32, bool) {
	var (
		best  uint32
		found bool
	)
	for _, sp := range r.spools {
		for _, e := range sp.entries {
			if !found || frame.SeqDelta(best, e.Seq) > 0 {
				best = e.Seq
				found = true
			}
		}
	}
	return best, found
}

// PeekDue returns the earliest frame (by timestamp across all spools)
// whose render deadline has arrived, i.e. |now - deadline| <= tolerance,
// dropping any OUTDATED frame it crosses on the way (deadline already
// passed by more than tolerance). It returns ok=false when nothing is
// currently due.
func (r *Racked) PeekDue(anchor Anchor, now time.Time) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		idx, found := r.earliestLocked()
		if !found {
			return Entry{}, false
		}
		sp := r.spools[idx]
		e := sp.entries[0]

		deadline, ok := anchor.RTPToLocal(e.TS)
		if !ok {
			_ = e.Frame.NoClockAnchor()
			r.popFrontLocked(idx)
			continue
		}

		delta := now.Sub(deadline)
		switch {
		case delta > r.tolerance:
			// Render time already passed beyond tolerance: OUTDATED.
			_ = e.Frame.Outdate()
			r.popFrontLocked(idx)
			continue
		case delta < -r.tolerance:
			// Too early; nothing else can be due before this one since
			// it is the earliest by timestamp.
			return Entry{}, false
		default:
			r.popFrontLocked(idx)
			return e, true
		}
	}
}

// earliestLocked finds the spool index whose head entry has the smallest
// timestamp.
func (r *Racked) earliestLocked() (int, bool) {
	best := -1
	var bestTS uint32
	for i, sp := range r.spools {
		if len(sp.entries) == 0 {
			continue
		}
		ts := sp.entries[0].TS
		if best == -1 || int32(ts-bestTS) < 0 {
			best = i
			bestTS = ts
		}
	}
	return best, best != -1
}

func (r *Racked) popFrontLocked(idx int) {
	sp := r.spools[idx]
	sp.entries = sp.entries[1:]
	if len(sp.entries) == 0 {
		r.spools = append(r.spools[:idx], r.spools[idx+1:]...)
	}
}

// Size returns the total number of frames currently held across all
// spools.
func (r *Racked) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sp := range r.spools {
		n += len(sp.entries)
	}
	return n
}

// Empty reports whether the queue holds no frames.
func (r *Racked) Empty() bool { return r.Size() == 0 }
