// Package app wires the matching registry to its transport, event bridge and
// metric sinks, and drives everything from a single scheduling loop.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/slac/config"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/session"
	coretransport "github.com/kilianp07/slac/core/transport"
	"github.com/kilianp07/slac/infra/logger"
	"github.com/kilianp07/slac/infra/metrics"
	"github.com/kilianp07/slac/infra/mqtt"
	"github.com/kilianp07/slac/internal/eventbus"
)

// commandBuffer bounds pending attempt requests.
const commandBuffer = 16

// Link combines the send and receive halves of a raw frame transport.
type Link interface {
	coretransport.FrameTransport
	Inbound() <-chan coretransport.Delivery
}

// Service owns the registry and its surroundings. The registry is only ever
// touched from the Run loop; external callers reach it through
// RequestAttempt.
type Service struct {
	Registry *session.Registry

	link     Link
	bus      eventbus.EventBus
	bridge   *mqtt.Bridge
	log      logger.Logger
	commands chan model.LinkIdentity

	tickInterval time.Duration
	promEnabled  bool
	promPort     int
}

// New creates a Service from the configuration and the given transport. An
// MQTT bridge is attached when a broker is configured.
func New(cfg *config.Config, link Link) (*Service, error) {
	logg := logger.New("service")

	sessionCfg, err := cfg.Slac.ToSessionConfig()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	sink, err := metrics.Build(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metric sinks: %w", err)
	}

	bus := eventbus.New()
	svc := &Service{
		Registry:     session.NewRegistry(sessionCfg, link, bus, sink, logger.New("registry")),
		link:         link,
		bus:          bus,
		log:          logg,
		commands:     make(chan model.LinkIdentity, commandBuffer),
		tickInterval: cfg.Slac.TickInterval(),
		promEnabled:  cfg.Metrics.PrometheusEnabled,
		promPort:     cfg.Metrics.PrometheusPort,
	}

	if cfg.MQTT.Broker != "" {
		bridge, err := mqtt.NewBridge(cfg.MQTT, bus, svc)
		if err != nil {
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
		svc.bridge = bridge
	}
	return svc, nil
}

// Bus exposes the lifecycle event bus for additional subscribers.
func (s *Service) Bus() eventbus.EventBus { return s.bus }

// RequestAttempt queues a matching attempt on the link. It never blocks; a
// full queue drops the request, callers retry through their own policy.
func (s *Service) RequestAttempt(link model.LinkIdentity) {
	select {
	case s.commands <- link:
	default:
		s.log.Warnf("attempt queue full, dropping request for %s", link)
	}
}

// Run drives the registry until the context is canceled. Inbound frames,
// attempt requests and timer polls are serialized here; nothing else may
// touch the registry concurrently.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			addr := fmt.Sprintf(":%d", s.promPort)
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-s.link.Inbound():
			if !ok {
				return fmt.Errorf("transport closed")
			}
			if err := s.Registry.OnFrame(d.Link, d.Payload, time.Now()); err != nil {
				s.log.Warnf("dropping frame on %s: %v", d.Link, err)
			}
		case link := <-s.commands:
			if _, err := s.Registry.StartAttempt(link, time.Now()); err != nil {
				s.log.Errorf("start attempt on %s: %v", link, err)
			}
		case now := <-ticker.C:
			s.Registry.Tick(now)
		}
	}
}

// Close releases the bridge and the event bus.
func (s *Service) Close() error {
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.bus.Close()
	return nil
}
