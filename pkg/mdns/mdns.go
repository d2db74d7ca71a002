// Package mdns announces the accessory's RAOP/AirPlay2 service over
// DNS-SD, adapted from the pack's KISS-over-TCP announcer: same
// Config/NewService/NewResponder shape, different service type and TXT
// record set.
package mdns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brutella/dnssd"
	"github.com/pierre-project/pierre/pkg/config"
)

const serviceType = "_raop._tcp"

// Announcer advertises the accessory's RAOP service on the local
// network until the context passed to Start is cancelled.
type Announcer struct {
	responder *dnssd.Responder
	service   dnssd.Service
	log       *slog.Logger
}

// New builds an Announcer for acc, reachable at eventPort. The TXT record
// carries the device id ("deviceid"), the feature bitmask in hex
// ("features"), the model ("model"), the display name ("name") and a
// source version ("srcvers"); no pairing-status field is published.
func New(log *slog.Logger, acc config.AccessoryConfig, eventPort int) (*Announcer, error) {
	name := fmt.Sprintf("%s@%s", acc.DeviceID, acc.ServiceName)

	cfg := dnssd.Config{
		Name: name,
		Type: serviceType,
		Port: eventPort,
		Text: map[string]string{
			"deviceid": acc.DeviceID,
			"features": fmt.Sprintf("0x%X", acc.FeaturesMask),
			"model":    acc.Model,
			"name":     acc.Name,
			"srcvers":  "1.0",
		},
	}

	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("mdns: build service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("mdns: build responder: %w", err)
	}
	if _, err := rp.Add(svc); err != nil {
		return nil, fmt.Errorf("mdns: add service: %w", err)
	}

	return &Announcer{responder: rp, service: svc, log: log}, nil
}

// Start runs the DNS-SD responder until ctx is cancelled.
func (a *Announcer) Start(ctx context.Context) {
	go func() {
		if err := a.responder.Respond(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("mdns responder stopped", "error", err)
		}
	}()
}
