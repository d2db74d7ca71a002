// Package frame implements C4: turning one ciphered RTP packet into a
// DSP-analyzed, renderable audio frame. The lifecycle is modeled
// explicitly as a state machine — NONE through RENDERED on the happy
// path, with DECIPHER_FAIL/DECODE_FAIL/OUTDATED/NO_CLK_ANC/FLUSHED as
// absorbing failure/drop states — using looplab/fsm the same way the
// pack's SIP dialog layer models call state.
package frame

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// State names, kept as plain strings so they serialize cleanly into log
// fields and match fsm.FSM's string-keyed states.
const (
	StateNone           = "NONE"
	StateHeaderParsed   = "HEADER_PARSED"
	StateDeciphered     = "DECIPHERED"
	StateDecoded        = "DECODED"
	StateDSPInProgress  = "DSP_IN_PROGRESS"
	StateDSPComplete    = "DSP_COMPLETE"
	StateReady          = "READY"
	StateRendered       = "RENDERED"
	StateDecipherFail   = "DECIPHER_FAIL"
	StateDecodeFail     = "DECODE_FAIL"
	StateOutdated       = "OUTDATED"
	StateNoClockAnchor  = "NO_CLK_ANC"
	StateFlushed        = "FLUSHED"
)

const (
	evParseHeader   = "parse_header"
	evDecipher      = "decipher"
	evDecipherFail  = "decipher_fail"
	evDecode        = "decode"
	evDecodeFail    = "decode_fail"
	evDSPStart      = "dsp_start"
	evDSPComplete   = "dsp_complete"
	evMarkReady     = "mark_ready"
	evRender        = "render"
	evOutdate       = "outdate"
	evNoClockAnchor = "no_clock_anchor"
	evFlush         = "flush"
)

var nonTerminalStates = []string{
	StateNone, StateHeaderParsed, StateDeciphered, StateDecoded,
	StateDSPInProgress, StateDSPComplete, StateReady,
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateNone,
		fsm.Events{
			{Name: evParseHeader, Src: []string{StateNone}, Dst: StateHeaderParsed},
			{Name: evDecipher, Src: []string{StateHeaderParsed}, Dst: StateDeciphered},
			{Name: evDecipherFail, Src: []string{StateHeaderParsed}, Dst: StateDecipherFail},
			{Name: evDecode, Src: []string{StateDeciphered}, Dst: StateDecoded},
			{Name: evDecodeFail, Src: []string{StateDeciphered}, Dst: StateDecodeFail},
			{Name: evDSPStart, Src: []string{StateDecoded}, Dst: StateDSPInProgress},
			{Name: evDSPComplete, Src: []string{StateDSPInProgress}, Dst: StateDSPComplete},
			{Name: evMarkReady, Src: []string{StateDSPComplete}, Dst: StateReady},
			{Name: evRender, Src: []string{StateReady}, Dst: StateRendered},
			{Name: evOutdate, Src: nonTerminalStates, Dst: StateOutdated},
			{Name: evNoClockAnchor, Src: nonTerminalStates, Dst: StateNoClockAnchor},
			{Name: evFlush, Src: nonTerminalStates, Dst: StateFlushed},
		},
		fsm.Callbacks{},
	)
}

// fire wraps (*fsm.FSM).Event, translating its "no such transition" error
// into one naming the frame's current state for easier diagnosis.
func fire(m *fsm.FSM, event string) error {
	if err := m.Event(context.Background(), event); err != nil {
		return fmt.Errorf("frame: cannot %s from state %s: %w", event, m.Current(), err)
	}
	return nil
}
