// Package supervisor implements C9: the single-threaded master event
// loop that owns C1..C8's lifecycles, installs signal handlers, and
// runs the watchdog — grounded on the teacher's cmd/relay main loop
// (context cancellation fed by a signal channel, a stats ticker beside
// the main work loop, ordered deferred shutdown).
package supervisor

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pion/rtcp"
	"golang.org/x/time/rate"

	"github.com/pierre-project/pierre/internal/aacdec"
	"github.com/pierre-project/pierre/pkg/anchor"
	"github.com/pierre-project/pierre/pkg/cipher"
	"github.com/pierre-project/pierre/pkg/config"
	"github.com/pierre-project/pierre/pkg/dispatch"
	"github.com/pierre-project/pierre/pkg/frame"
	"github.com/pierre-project/pierre/pkg/netsrv"
	"github.com/pierre-project/pierre/pkg/racked"
	"github.com/pierre-project/pierre/pkg/render"
	"github.com/pierre-project/pierre/pkg/rtsp"
	"github.com/pierre-project/pierre/pkg/stats"
)

// Supervisor owns one accessory process end to end: the net listeners,
// the cipher/dispatch state backing the control connection, the DSP
// worker pool, the Racked queue, and the render loop. A process hosts
// exactly one Supervisor.
type Supervisor struct {
	cfg      *config.Config
	log      *slog.Logger
	statsink stats.Sink

	identity *cipher.AccessoryIdentity

	masterClock *anchor.MasterClock
	ctrlChannel *anchor.ControlChannel
	anchorState *anchor.Anchor

	pool    *frame.Pool
	rackq   *racked.Racked
	loop    *render.Loop
	dmxConn net.Conn

	table *dispatch.Table
	sess  *dispatch.Session

	eventSrv *netsrv.EventServer

	pairedMu sync.Mutex
	paired   map[string]ed25519.PublicKey

	mu          sync.Mutex
	audioSrv    *netsrv.AudioServer
	controlSrv  *netsrv.ControlServer
	timingSrv   *netsrv.TimingServer
	audioCh     chan []byte
	controlCh   chan rtcp.Packet
	audioCipher *frame.AudioCipher
	aacDecoder  *aacdec.Decoder
	pairVerify  *cipher.PairVerify

	watchdogPeriod time.Duration

	// dspLimiter throttles DSP job submission (cfg.DSPWorkers.MaxSubmitRate);
	// nil when unconfigured, in which case ingestPacket never throttles.
	dspLimiter *rate.Limiter

	// backlogWarnLimiter keeps watchdogLoop's racked-queue backlog warning
	// from spamming the log every tick while the backlog stays high.
	backlogWarnLimiter *rate.Limiter

	// OnReady, if set before Run, is called once the event listener is
	// bound, with the port a caller (e.g. an mDNS announcer) should
	// advertise. It must not block.
	OnReady func(eventPort int)
}

// New wires every component the control/data flow names but opens no
// sockets yet — that happens in Run, so tests can construct a
// Supervisor without binding ports.
func New(cfg *config.Config, log *slog.Logger, sink stats.Sink) (*Supervisor, error) {
	if sink == nil {
		sink = stats.NoopSink{}
	}

	identity, err := cipher.NewAccessoryIdentity(cfg.Accessory.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build accessory identity: %w", err)
	}

	s := &Supervisor{
		cfg:            cfg,
		log:            log,
		statsink:       sink,
		identity:       identity,
		paired:         make(map[string]ed25519.PublicKey),
		watchdogPeriod: 2 * time.Second,
	}

	pairVerify, err := cipher.NewPairVerify(identity, s.lookupPairedController)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build pair-verify: %w", err)
	}
	s.pairVerify = pairVerify

	s.table = dispatch.NewTable()
	s.sess = &dispatch.Session{
		PairSetup: &pairSetupTracker{
			inner:    cipher.NewPairSetup(identity, cfg.Accessory.SetupCode),
			onPaired: s.rememberPairedController,
		},
		PairVerify: s.pairVerify,
		Accessory: dispatch.AccessoryInfo{
			DeviceID: cfg.Accessory.DeviceID,
			Features: cfg.Accessory.FeaturesMask,
			Model:    cfg.Accessory.Model,
			Name:     cfg.Accessory.Name,
		},
		SetupStream:  s.handleSetupStream,
		SetParameter: s.handleSetParameter,
		Flush:        s.handleFlush,
		Record:       func() {},
		Teardown:     s.handleTeardown,
	}

	return s, nil
}

func (s *Supervisor) rememberPairedController(pc *cipher.PairedController) {
	s.pairedMu.Lock()
	defer s.pairedMu.Unlock()
	s.paired[pc.Identifier] = pc.LTPK
}

func (s *Supervisor) lookupPairedController(identifier string) (ed25519.PublicKey, bool) {
	s.pairedMu.Lock()
	defer s.pairedMu.Unlock()
	ltpk, ok := s.paired[identifier]
	return ltpk, ok
}

// pairSetupTracker wraps cipher.PairSetup so the supervisor learns about
// a freshly-paired controller the moment M5 completes, without
// dispatch needing to know anything beyond the PairSetupStepper shape.
type pairSetupTracker struct {
	inner    *cipher.PairSetup
	onPaired func(*cipher.PairedController)
}

func (t *pairSetupTracker) Step(body []byte) ([]byte, error) {
	reply, err := t.inner.Step(body)
	if pc := t.inner.Paired(); pc != nil {
		t.onPaired(pc)
	}
	return reply, err
}

// Run opens the master clock, starts the control listener and
// watchdog, and blocks until ctx is cancelled or a terminating signal
// arrives, then tears everything down in order.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			s.log.Info("ignoring SIGHUP: config reload is handled by restarting the process with a new config")
		}
	}()

	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("supervisor: invalid config: %w", err)
	}

	masterClock, err := anchor.OpenMasterClock(s.cfg.Clock.SHMName)
	if err != nil {
		return fmt.Errorf("supervisor: open master clock: %w", err)
	}
	s.masterClock = masterClock
	s.anchorState = anchor.NewAnchor(masterClock, s.cfg.Audio.SampleRate, s.cfg.Clock.StableAfter, s.cfg.Clock.MaxSampleAge)

	ctrlChannel, err := anchor.DialControlChannel(s.cfg.Clock.ControlAddr, s.cfg.Clock.SHMName, 5*time.Second)
	if err != nil {
		s.masterClock.Close()
		return fmt.Errorf("supervisor: dial ptp control channel: %w", err)
	}
	s.ctrlChannel = ctrlChannel

	dmxConn, err := net.Dial("tcp", s.cfg.DMX.Addr)
	if err != nil {
		s.teardownClockOnly()
		return fmt.Errorf("supervisor: dial dmx transport: %w", err)
	}
	s.dmxConn = dmxConn

	s.pool = frame.NewPool(frame.WorkerCount(s.cfg.DSPWorkers.Factor), 32)
	if s.cfg.DSPWorkers.MaxSubmitRate > 0 {
		s.dspLimiter = rate.NewLimiter(rate.Limit(s.cfg.DSPWorkers.MaxSubmitRate), s.cfg.DSPWorkers.SubmitBurst)
	}
	s.backlogWarnLimiter = rate.NewLimiter(rate.Every(s.watchdogPeriod*5), 1)
	s.rackq = racked.New(s.cfg.Render.Tolerance)
	s.loop = render.NewLoop(s.rackq, s.anchorState, s.dmxConn, s.cfg.Render.LeadTime, s.statsink)

	eventSrv, err := netsrv.NewEventServer(s.log, net.JoinHostPort(s.cfg.Net.BindIP, portStr(s.cfg.Net.EventPort)), s.table, s.sess)
	if err != nil {
		s.teardownPreRender()
		return fmt.Errorf("supervisor: start event server: %w", err)
	}
	s.eventSrv = eventSrv
	s.eventSrv.Start(ctx)
	s.log.Info("event server listening", "port", s.eventSrv.LocalPort())
	if s.OnReady != nil {
		s.OnReady(s.eventSrv.LocalPort())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.renderLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.watchdogLoop(ctx)
	}()

	<-ctx.Done()
	s.log.Info("shutdown signal received, tearing down")
	wg.Wait()

	s.teardown()
	return nil
}

// renderLoop ticks the render component at its lead-time cadence,
// re-evaluating Anchor fusion on every tick so a stale ACTUAL anchor
// ages out even without a fresh sample.
func (s *Supervisor) renderLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Render.LeadTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.anchorState.Reevaluate(now); err != nil {
				s.log.Warn("anchor reevaluate failed", "error", err)
			}
			if err := s.loop.Tick(now); err != nil {
				s.log.Warn("render tick failed", "error", err)
				s.statsink.FrameDropped("render_error")
			}
		}
	}
}

// watchdogLoop runs every watchdogPeriod and reports queue depths so an
// external monitor can notice a stalled DSP pool or a growing backlog.
func (s *Supervisor) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(s.watchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			rackedSize := 0
			if s.rackq != nil {
				rackedSize = s.rackq.Size()
			}
			s.mu.Unlock()
			s.statsink.RackedSize(rackedSize)
			s.statsink.WatchdogTick(true)
			if rackedSize > backlogWarnThreshold && s.backlogWarnLimiter.Allow() {
				s.log.Warn("racked queue backlog", "size", rackedSize)
			}
		}
	}
}

// audioIngestLoop drains the audio-buffered TCP server's packet channel,
// pushing each raw RTP packet through the decipher/decode/DSP pipeline
// and into Racked.
func (s *Supervisor) audioIngestLoop(ctx context.Context, packets chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-packets:
			if !ok {
				return
			}
			s.ingestPacket(raw)
		}
	}
}

// controlIngestLoop drains decoded RTCP packets arriving on the control
// UDP socket; retransmitted audio itself still arrives on the ordinary
// audio channel once the sender resends it, so this loop only logs.
func (s *Supervisor) controlIngestLoop(ctx context.Context, packets chan rtcp.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			s.log.Debug("control channel packet", "type", fmt.Sprintf("%T", p))
		}
	}
}

const nonceSize = 8

// backlogWarnThreshold is the racked queue size past which watchdogLoop
// starts warning about a growing backlog (render loop falling behind).
const backlogWarnThreshold = 64

// ingestPacket drives one raw RTP packet through ParseHeader, Decipher,
// Decode, and RunDSP, inserting the result into Racked on success and
// reporting a drop reason to stats on any failure.
func (s *Supervisor) ingestPacket(raw []byte) {
	s.mu.Lock()
	ac := s.audioCipher
	dec := s.aacDecoder
	s.mu.Unlock()
	if ac == nil || dec == nil {
		s.statsink.FrameDropped("no_session")
		return
	}

	f := frame.New()
	if err := f.ParseHeader(raw); err != nil {
		s.statsink.FrameDropped("header_parse")
		return
	}
	if len(raw) < 12+nonceSize {
		s.statsink.FrameDropped("short_packet")
		return
	}

	// The trailing 8 bytes of the packet are the AEAD nonce field; the
	// ciphertext+tag Decipher expects sits in front of it.
	var nonce8 [nonceSize]byte
	copy(nonce8[:], raw[len(raw)-nonceSize:])
	trimmed := raw[:len(raw)-nonceSize]

	plain, err := f.Decipher(ac, trimmed, nonce8)
	if err != nil {
		s.statsink.FrameDropped("decipher_fail")
		return
	}

	accessUnit, err := frame.ExtractAccessUnit(plain)
	if err != nil {
		_ = f.Outdate()
		s.statsink.FrameDropped("access_unit_parse")
		return
	}

	if err := f.Decode(dec, accessUnit, s.cfg.Audio.SamplesPerFrame); err != nil {
		s.statsink.FrameDropped("decode_fail")
		return
	}

	if s.dspLimiter != nil && !s.dspLimiter.Allow() {
		_ = f.Outdate()
		s.statsink.FrameDropped("dsp_rate_limited")
		return
	}

	if err := f.RunDSP(s.pool, s.cfg.Audio.SampleRate, frame.WindowHann); err != nil {
		s.statsink.FrameDropped("dsp_fail")
		return
	}

	s.rackq.Insert(racked.Entry{Seq: f.Header.SequenceNum, TS: f.Header.Timestamp, Frame: f})
}

// handleSetupStream opens the per-session audio/control/timing
// listeners on SETUP, deriving the audio AEAD key from the completed
// pair-verify exchange and reporting the allocated ports in the reply.
func (s *Supervisor) handleSetupStream(req rtsp.SetupRequest) (rtsp.SetupReply, error) {
	if !s.pairVerify.Done() {
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: SETUP before pair-verify completed")
	}
	if len(req.Streams) == 0 {
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: SETUP with no streams")
	}

	audioKey := s.pairVerify.AudioKey()
	ac, err := frame.NewAudioCipher(audioKey)
	if err != nil {
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: build audio cipher: %w", err)
	}
	dec, err := aacdec.NewDecoder(s.cfg.Audio.SampleRate, s.cfg.Audio.Channels)
	if err != nil {
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: build aac decoder: %w", err)
	}

	s.mu.Lock()
	s.audioCipher = ac
	s.aacDecoder = dec
	if s.audioCh == nil {
		s.audioCh = make(chan []byte, 256)
	}
	if s.controlCh == nil {
		s.controlCh = make(chan rtcp.Packet, 16)
	}
	s.mu.Unlock()

	audioSrv, err := netsrv.NewAudioServer(s.log, net.JoinHostPort(s.cfg.Net.BindIP, "0"), s.audioCh)
	if err != nil {
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: start audio server: %w", err)
	}
	ctrlSrv, err := netsrv.NewControlServer(s.log, net.JoinHostPort(s.cfg.Net.BindIP, portStr(s.cfg.Net.ControlUDP)), s.controlCh)
	if err != nil {
		audioSrv.Stop()
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: start control server: %w", err)
	}
	timingSrv, err := netsrv.NewTimingServer(s.log, net.JoinHostPort(s.cfg.Net.BindIP, portStr(s.cfg.Net.TimingUDP)))
	if err != nil {
		audioSrv.Stop()
		ctrlSrv.Stop()
		return rtsp.SetupReply{}, fmt.Errorf("supervisor: start timing server: %w", err)
	}

	bg := context.Background()
	audioSrv.Start(bg)
	ctrlSrv.Start(bg)
	timingSrv.Start(bg)
	go s.audioIngestLoop(bg, s.audioCh)
	go s.controlIngestLoop(bg, s.controlCh)

	s.mu.Lock()
	s.audioSrv = audioSrv
	s.controlSrv = ctrlSrv
	s.timingSrv = timingSrv
	s.mu.Unlock()

	return rtsp.SetupReply{
		EventPort: int64(s.eventSrv.LocalPort()),
		Streams: []rtsp.StreamReply{
			{Type: req.Streams[0].Type, DataPort: int64(audioSrv.LocalPort()), ControlPort: int64(ctrlSrv.LocalPort())},
		},
	}, nil
}

// handleSetParameter accepts the parsed parameters and discards them. It
// passes nothing to the Anchor, and no supervisor path calls
// anchorState.Update.
func (s *Supervisor) handleSetParameter(params map[string]string) error {
	return nil
}

func (s *Supervisor) handleFlush(untilSeq, untilTS uint32) {
	s.rackq.Flush(racked.FlushRequest{UntilSeq: untilSeq, UntilTS: untilTS})
}

// handleTeardown stops the session-scoped net servers and discards the
// audio cipher/decoder, leaving the event listener and C9 itself intact
// for a subsequent SETUP.
func (s *Supervisor) handleTeardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioSrv != nil {
		s.audioSrv.Stop()
		s.audioSrv = nil
	}
	if s.controlSrv != nil {
		s.controlSrv.Stop()
		s.controlSrv = nil
	}
	if s.timingSrv != nil {
		s.timingSrv.Stop()
		s.timingSrv = nil
	}
	if s.aacDecoder != nil {
		s.aacDecoder.Close()
		s.aacDecoder = nil
	}
	s.audioCipher = nil
}

// teardown runs the full shutdown order: event listener → net servers
// → DSP pool → DMX transport → PTP control channel/master clock.
func (s *Supervisor) teardown() {
	if s.eventSrv != nil {
		s.eventSrv.Stop()
	}
	s.handleTeardown()
	if s.pool != nil {
		s.pool.Close()
	}
	if s.dmxConn != nil {
		s.dmxConn.Close()
	}
	s.teardownClockOnly()
}

func (s *Supervisor) teardownPreRender() {
	s.teardownClockOnly()
}

func (s *Supervisor) teardownClockOnly() {
	if s.ctrlChannel != nil {
		s.ctrlChannel.Close()
	}
	if s.masterClock != nil {
		s.masterClock.Close()
	}
}

func portStr(p int) string {
	if p == 0 {
		return "0"
	}
	return fmt.Sprintf("%d", p)
}
