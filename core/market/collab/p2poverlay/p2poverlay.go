// Package p2poverlay adapts nhbchain's p2p.Server to the collab.Overlay
// contract, encoding market protocol payloads as p2p.Message frames keyed
// by a single reserved message type byte per spec.md §6.
package p2poverlay

import (
	"context"
	"fmt"

	"nhbchain/p2p"
)

// MessageType is the p2p.Message.Type value reserved for market gossip and
// negotiation traffic. The first payload byte carries the topic length so a
// single wire type can multiplex every market protocol message.
const MessageType byte = 0x40

// Server is the subset of p2p.Server the overlay adapter needs.
type Server interface {
	Broadcast(msg *p2p.Message) error
	SendToPeer(id string, msg *p2p.Message) error
	LocalNodeID() string
}

// Overlay adapts a p2p.Server to collab.Overlay.
type Overlay struct {
	server Server
}

// New wraps server as a collab.Overlay.
func New(server Server) *Overlay {
	return &Overlay{server: server}
}

func encodeFrame(topic string, payload []byte) ([]byte, error) {
	if len(topic) > 255 {
		return nil, fmt.Errorf("p2poverlay: topic %q exceeds 255 bytes", topic)
	}
	frame := make([]byte, 0, 1+len(topic)+len(payload))
	frame = append(frame, byte(len(topic)))
	frame = append(frame, topic...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeFrame splits a received market message back into its topic and
// payload, the inverse of encodeFrame.
func DecodeFrame(frame []byte) (topic string, payload []byte, err error) {
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("p2poverlay: empty frame")
	}
	n := int(frame[0])
	if len(frame) < 1+n {
		return "", nil, fmt.Errorf("p2poverlay: truncated frame")
	}
	return string(frame[1 : 1+n]), frame[1+n:], nil
}

// Broadcast implements collab.Overlay.
func (o *Overlay) Broadcast(_ context.Context, topic string, payload []byte) error {
	frame, err := encodeFrame(topic, payload)
	if err != nil {
		return err
	}
	return o.server.Broadcast(&p2p.Message{Type: MessageType, Payload: frame})
}

// SendTo implements collab.Overlay.
func (o *Overlay) SendTo(_ context.Context, peer string, topic string, payload []byte) error {
	frame, err := encodeFrame(topic, payload)
	if err != nil {
		return err
	}
	return o.server.SendToPeer(peer, &p2p.Message{Type: MessageType, Payload: frame})
}

// LocalNodeID implements collab.Overlay.
func (o *Overlay) LocalNodeID() string { return o.server.LocalNodeID() }
