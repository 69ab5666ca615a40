// Package transport defines the raw frame boundary between the matching core
// and the surrounding application. The core only ever hands fully encoded
// frames to a FrameTransport and receives inbound frames through the
// registry; it never blocks on delivery.
package transport

import "github.com/kilianp07/slac/core/model"

// Delivery is one inbound raw frame tagged with its link identity.
type Delivery struct {
	Link    model.LinkIdentity
	Payload []byte
}

// FrameTransport sends raw green-PHY management frames. Implementations may
// be asynchronous; there is no delivery confirmation at this layer.
type FrameTransport interface {
	Send(link model.LinkIdentity, frame []byte) error
}
