package render

import (
	"io"
	"time"

	"github.com/pierre-project/pierre/pkg/anchor"
	"github.com/pierre-project/pierre/pkg/racked"
	"github.com/pierre-project/pierre/pkg/stats"
)

// Source is the subset of racked.Racked the render loop drives.
type Source interface {
	PeekDue(a racked.Anchor, now time.Time) (racked.Entry, bool)
}

// AnchorClock is the subset of anchor.Anchor the render loop consumes:
// Actual() decides silence vs real playback, RTPToLocal backs Racked's
// peek_due.
type AnchorClock interface {
	Actual() (anchor.AnchorSample, bool)
	RTPToLocal(rtpTimestamp uint32) (time.Time, bool)
}

// Loop drives C6's per-tick cadence: synthesize silence while the anchor
// is invalid, otherwise pull a due frame from Racked, build a DmxDataMsg,
// and write it length-prefixed to the DMX transport. A tick with a valid
// anchor and no due frame writes nothing.
type Loop struct {
	racked    Source
	anchor    AnchorClock
	writer    io.Writer
	leadTime  time.Duration
	stats     stats.Sink
	nowRealFn func() time.Time

	lastNowUS int64
}

// NewLoop builds a render Loop.
func NewLoop(rq Source, a AnchorClock, writer io.Writer, leadTime time.Duration, sink stats.Sink) *Loop {
	if sink == nil {
		sink = stats.NoopSink{}
	}
	return &Loop{
		racked:    rq,
		anchor:    a,
		writer:    writer,
		leadTime:  leadTime,
		stats:     sink,
		nowRealFn: time.Now,
	}
}

// Tick runs one render cycle: per spec.md §4.6, (1) check AnchorLast
// validity and emit silence if invalid, (2) otherwise ask Racked for a
// due frame and emit it, or emit nothing if none is due yet.
func (l *Loop) Tick(now time.Time) error {
	if _, ok := l.anchor.Actual(); !ok {
		return l.emitSilence(now)
	}
	l.stats.AnchorValid(true)

	entry, ok := l.racked.PeekDue(l.anchor, now)
	if !ok {
		return nil
	}

	deadline, _ := l.anchor.RTPToLocal(entry.TS)
	syncWait := deadline.Sub(now)

	if err := entry.Frame.MarkReady(deadline); err != nil {
		return err
	}
	msg := l.buildMessage(entry.Seq, entry.TS, false, syncWait, now)
	if err := l.writeMessage(msg); err != nil {
		return err
	}
	if err := entry.Frame.Render(); err != nil {
		return err
	}
	l.stats.FrameDecoded()
	return nil
}

// emitSilence sends a seq=0/ts=0 silent DmxDataMsg at lead-time cadence,
// the substitution spec.md §7 prescribes for a transient anchor-invalid
// condition (cold start, clock flap, etc).
func (l *Loop) emitSilence(now time.Time) error {
	msg := l.buildMessage(0, 0, true, l.leadTime, now)
	l.stats.AnchorValid(false)
	return l.writeMessage(msg)
}

// buildMessage fills a DmxDataMsg, clamping now_us to be non-decreasing
// across ticks (spec.md §8 invariant 7) even if the wall clock jitters
// backward between calls.
func (l *Loop) buildMessage(seq, ts uint32, silence bool, syncWait time.Duration, now time.Time) DmxDataMsg {
	var dframe [16]byte // FX-populated downstream; zero-filled for silence

	nowUS := now.UnixMicro()
	if nowUS < l.lastNowUS {
		nowUS = l.lastNowUS
	}
	l.lastNowUS = nowUS

	return DmxDataMsg{
		Type:       "data",
		SeqNum:     seq,
		Timestamp:  ts,
		Silence:    silence,
		LeadTimeUS: l.leadTime.Microseconds(),
		SyncWaitUS: syncWait.Microseconds(),
		DFrame:     dframe,
		NowUS:      nowUS,
		NowRealUS:  l.nowRealFn().UnixMicro(),
	}
}

func (l *Loop) writeMessage(msg DmxDataMsg) error {
	buf, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(buf)
	return err
}
