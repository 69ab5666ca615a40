package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/mme"
	coretransport "github.com/kilianp07/slac/core/transport"
	"github.com/kilianp07/slac/infra/logger"
)

// maxFrame bounds a single received datagram. Management frames are far
// smaller; anything larger is noise.
const maxFrame = 1600

// UDPConfig defines a datagram-encapsulated frame link, as used by bench
// setups that tunnel green-PHY management frames between two hosts.
type UDPConfig struct {
	// Listen is the local address, e.g. ":15118".
	Listen string `json:"listen"`
	// Peer is the remote address frames are sent to.
	Peer string `json:"peer"`
	// Vehicle selects how inbound frames map onto link identities: a
	// station receives frames whose source is the vehicle, and vice versa.
	Vehicle bool `json:"vehicle"`
}

// UDP tunnels encoded management frames over UDP datagrams, one frame per
// datagram.
type UDP struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	vehicle bool
	in      chan coretransport.Delivery
	log     logger.Logger

	closeOnce sync.Once
}

// NewUDP binds the local address and starts receiving. Frames whose link
// addressing cannot be read are dropped.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen %q: %w", cfg.Listen, err)
	}
	peer, err := net.ResolveUDPAddr("udp", cfg.Peer)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", cfg.Peer, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}
	u := &UDP{
		conn:    conn,
		peer:    peer,
		vehicle: cfg.Vehicle,
		in:      make(chan coretransport.Delivery, pipeBuffer),
		log:     logger.New("udp_transport"),
	}
	go u.receive()
	return u, nil
}

// Send writes the frame as one datagram to the peer.
func (u *UDP) Send(_ model.LinkIdentity, frame []byte) error {
	_, err := u.conn.WriteToUDP(frame, u.peer)
	return err
}

// Inbound returns the delivery channel. It closes when the transport closes.
func (u *UDP) Inbound() <-chan coretransport.Delivery { return u.in }

// Close shuts the socket down.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() { err = u.conn.Close() })
	return err
}

func (u *UDP) receive() {
	defer close(u.in)
	buf := make([]byte, maxFrame)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		dst, src, err := mme.Addresses(buf[:n])
		if err != nil {
			u.log.Debugf("dropping datagram: %v", err)
			continue
		}
		link := model.LinkIdentity{EV: src, Station: dst}
		if u.vehicle {
			link = model.LinkIdentity{EV: dst, Station: src}
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case u.in <- coretransport.Delivery{Link: link, Payload: payload}:
		default:
			u.log.Warnf("inbound queue full, dropping frame on %s", link)
		}
	}
}
