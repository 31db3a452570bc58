// Package gateway maintains the websocket session with the KOOK gateway:
// dialing, resuming, heartbeats, and in-order delivery of event frames.
package gateway

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/coder/websocket"
)

// Signal is the s field of a gateway frame.
type Signal uint8

const (
	SignalEvent Signal = iota
	SignalHello
	SignalPing
	SignalPong
	SignalResume
	SignalReconnect
	SignalResumeAck
)

func (s Signal) String() string {
	switch s {
	case SignalEvent:
		return "event"
	case SignalHello:
		return "hello"
	case SignalPing:
		return "ping"
	case SignalPong:
		return "pong"
	case SignalResume:
		return "resume"
	case SignalReconnect:
		return "reconnect"
	case SignalResumeAck:
		return "resume_ack"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// Frame is one gateway message. Event frames carry a sequence number;
// signal frames usually do not.
type Frame struct {
	Signal Signal          `json:"s"`
	Data   json.RawMessage `json:"d,omitempty"`
	SN     *uint64         `json:"sn,omitempty"`
}

// empty reports whether every field still holds its zero value, which
// marks a frame the gateway sent without content.
func (f *Frame) empty() bool {
	return f.Signal == SignalEvent && len(f.Data) == 0 && f.SN == nil
}

// helloData is the payload of hello and resume-ack frames.
type helloData struct {
	Code      int    `json:"code"`
	SessionID string `json:"session_id"`
}

// DecodeFrame parses an inbound websocket message. Binary messages are
// zlib-deflated JSON and are inflated transparently.
func DecodeFrame(typ websocket.MessageType, data []byte) (*Frame, error) {
	if typ == websocket.MessageBinary {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open zlib frame: %w", err)
		}
		inflated, err := io.ReadAll(zr)
		closeErr := zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate frame: %w", err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("inflate frame: %w", closeErr)
		}
		data = inflated
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// pingPayload encodes the client heartbeat carrying the highest processed
// sequence number.
func pingPayload(sn uint64) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Signal Signal `json:"s"`
		SN     uint64 `json:"sn"`
	}{Signal: SignalPing, SN: sn})
	if err != nil {
		return nil, fmt.Errorf("encode ping: %w", err)
	}
	return payload, nil
}
