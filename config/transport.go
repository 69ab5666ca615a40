package config

import (
	"fmt"

	"github.com/kilianp07/slac/infra/transport"
)

// TransportConfig selects the raw frame link of the service. The in-memory
// pipe is wired programmatically and has no configuration.
type TransportConfig struct {
	// Type is "udp", the datagram tunnel used by bench setups.
	Type string              `json:"type"`
	UDP  transport.UDPConfig `json:"udp"`
}

// SetDefaults applies sane defaults.
func (c *TransportConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "udp"
	}
	if c.UDP.Listen == "" {
		c.UDP.Listen = ":15118"
	}
}

// Validate checks mandatory fields.
func (c TransportConfig) Validate() error {
	if c.Type != "udp" {
		return fmt.Errorf("unknown transport type %s", c.Type)
	}
	if c.UDP.Peer == "" {
		return fmt.Errorf("udp peer address is required")
	}
	return nil
}
