// Package config holds the parameters the core needs to start a session.
// Reading these from a file, flags, or environment and watching them for
// live reload is an external, out-of-core concern (spec.md §1); this
// package only defines the shape the CLI/config collaborator is expected to
// populate and hand to the supervisor.
package config

import (
	"fmt"
	"time"
)

// Config is the complete set of parameters the supervisor needs to stand up
// C1..C8. It is constructed once per process and never mutated in place —
// a "reload" is the external collaborator building a new Config and asking
// the supervisor to restart with it (spec.md §9, config-change-triggered
// invalidation is explicitly replaced with this pattern).
type Config struct {
	Accessory  AccessoryConfig
	Clock      ClockConfig
	Audio      AudioConfig
	Render     RenderConfig
	DMX        DMXConfig
	DSPWorkers WorkerConfig
	Net        NetConfig
}

// AccessoryConfig describes the HomeKit-capable AirPlay accessory identity
// advertised over mDNS (mDNS itself is an external collaborator — only the
// fields it needs to advertise are core data).
type AccessoryConfig struct {
	ServiceName  string // e.g. "pierre"
	DeviceID     string // 6-byte MAC-like identifier, colon separated
	Model        string
	Name         string
	SetupCode    string // 8-digit HomeKit pairing code, used by pair-setup
	FeaturesMask uint64
}

// ClockConfig locates the external PTP helper.
type ClockConfig struct {
	SHMName       string // derived as "<ServiceName>-<DeviceID>" if empty
	ControlAddr   string // udp to the PTP helper control port, default 127.0.0.1:9000
	StableAfter   time.Duration // master-for threshold for STABLE, default 5s
	MaxSampleAge  time.Duration // OK threshold, default 10s
}

// AudioConfig carries the fixed parameters of the decoded PCM stream.
type AudioConfig struct {
	SampleRate     uint32 // 44100
	Channels       int    // 2
	SamplesPerFrame int   // 1024
}

// RenderConfig carries C6 scheduling parameters.
type RenderConfig struct {
	LeadTime    time.Duration // nominal ~23.22ms (1024 samples @ 44100Hz)
	LeadTimeMin time.Duration // how early a frame may render
	Tolerance   time.Duration // |sync_wait| <= Tolerance counts as "due"
}

// DMXConfig locates the downstream lighting transport socket.
type DMXConfig struct {
	Addr string // tcp address of the DMX message consumer
}

// WorkerConfig sizes the DSP worker pool (spec.md §4.4).
type WorkerConfig struct {
	Factor float64 // multiplies hardware_concurrency, default 0.4

	// MaxSubmitRate bounds how many DSP jobs per second ingestPacket may
	// submit to the pool; 0 disables the limiter. This is a backpressure
	// valve for a sender pushing frames faster than the pool can drain,
	// not a steady-state cap: SubmitBurst should comfortably absorb a
	// sender's normal jitter around the nominal frame cadence.
	MaxSubmitRate float64
	SubmitBurst   int
}

// NetConfig carries the bind addresses C8's four listeners use. A
// port of 0 means "let the OS assign one"; the assigned port is what
// gets reported back to the sender in the SETUP reply plist.
type NetConfig struct {
	BindIP     string // interface to bind all listeners on, default "0.0.0.0"
	EventPort  int    // RTSP-framed event TCP listener
	ControlUDP int    // resend/retransmit control datagrams
	TimingUDP  int    // NTP-over-UDP timing exchange
}

// Default returns a Config populated with spec.md's nominal constants. The
// caller overrides accessory identity and transport addresses.
func Default() *Config {
	return &Config{
		Clock: ClockConfig{
			ControlAddr:  "127.0.0.1:9000",
			StableAfter:  5 * time.Second,
			MaxSampleAge: 10 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:      44100,
			Channels:        2,
			SamplesPerFrame: 1024,
		},
		Render: RenderConfig{
			LeadTime:    time.Duration(1024) * time.Second / 44100,
			LeadTimeMin: time.Duration(1024) * time.Second / 44100,
			Tolerance:   2 * time.Millisecond,
		},
		DSPWorkers: WorkerConfig{Factor: 0.4, MaxSubmitRate: 172.0, SubmitBurst: 32},
		Net: NetConfig{
			BindIP: "0.0.0.0",
		},
	}
}

// Validate checks that all fields required to start a session are present.
func (c *Config) Validate() error {
	if c.Accessory.ServiceName == "" {
		return fmt.Errorf("missing accessory service name")
	}
	if c.Accessory.DeviceID == "" {
		return fmt.Errorf("missing accessory device id")
	}
	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("missing audio sample rate")
	}
	if c.DMX.Addr == "" {
		return fmt.Errorf("missing DMX transport address")
	}
	if c.Clock.SHMName == "" {
		c.Clock.SHMName = c.Accessory.ServiceName + "-" + c.Accessory.DeviceID
	}
	return nil
}
