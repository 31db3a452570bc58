package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/metrics"
	"github.com/kooklabs/ksbot/pkg/pacing"
)

// State is a step of the session machine.
type State int32

const (
	StateGetGateway State = iota
	StateConnectGateway
	StateResume
	StateWorking
	StateHeartTimeout
	StateReconnect
)

func (s State) String() string {
	switch s {
	case StateGetGateway:
		return "get_gateway"
	case StateConnectGateway:
		return "connect_gateway"
	case StateResume:
		return "resume"
	case StateWorking:
		return "working"
	case StateHeartTimeout:
		return "heart_timeout"
	case StateReconnect:
		return "reconnect"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultPingInterval    = 30 * time.Second
	defaultPersistInterval = 10 * time.Second
	defaultRetryDelay      = 4 * time.Second

	maxConnectFailures = 3
	maxPongTimeouts    = 3

	frameChanCapacity = 16
	readLimit         = 1 << 20
)

// GatewayProvider supplies fresh websocket gateway URLs.
type GatewayProvider interface {
	Gateway(ctx context.Context) (string, error)
}

// conn is the part of *websocket.Conn the session uses.
type conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, url string) (conn, error)

func defaultDial(ctx context.Context, url string) (conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(readLimit)
	return c, nil
}

// Session drives the gateway connection through its state machine and
// publishes ordered events on the bus. Exactly one goroutine runs the
// machine; it owns the socket and is its only writer.
type Session struct {
	provider GatewayProvider
	dial     dialFunc
	record   *RecordFile
	bus      *Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state       State
	stateAtomic atomic.Int32
	snAtomic    atomic.Uint64

	conn       conn
	buf        *buffer
	sessionID  string
	gatewayURL string
	dialURL    string

	connectFails     int
	timeoutCount     int
	connectBackoff   *pacing.Backoff
	heartbeatBackoff *pacing.Backoff

	pingInterval    time.Duration
	persistInterval time.Duration
	retryDelay      time.Duration
}

// NewSession creates the session machine. A usable initial record moves
// the start state to Resume; record may be nil when persistence is off.
// m may be nil to disable metrics.
func NewSession(provider GatewayProvider, record *RecordFile, initial *Record, bus *Bus, m *metrics.Metrics) *Session {
	s := &Session{
		provider:         provider,
		dial:             defaultDial,
		record:           record,
		bus:              bus,
		metrics:          m,
		logger:           slog.Default().With("component", "session"),
		buf:              newBuffer(0),
		connectBackoff:   pacing.NewBackoff(2),
		heartbeatBackoff: pacing.NewBackoff(2),
		pingInterval:     defaultPingInterval,
		persistInterval:  defaultPersistInterval,
		retryDelay:       defaultRetryDelay,
	}
	// The first pong wait lands at base^2, not base^1.
	s.heartbeatBackoff.Forward(1)

	s.state = StateGetGateway
	if initial != nil && initial.Gateway != "" && initial.SessionID != "" {
		s.gatewayURL = initial.Gateway
		s.sessionID = initial.SessionID
		s.buf = newBuffer(initial.SN)
		s.snAtomic.Store(initial.SN)
		s.state = StateResume
	}
	s.stateAtomic.Store(int32(s.state))
	return s
}

// Run executes the state machine until ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Session starting", "state", s.state)
	for {
		if ctx.Err() != nil {
			s.persist()
			return ctx.Err()
		}

		var next State
		switch prev := s.state; prev {
		case StateGetGateway, StateReconnect:
			next = s.fetchGateway(ctx, prev)
		case StateResume:
			next = s.prepareResume()
		case StateConnectGateway, StateHeartTimeout:
			next = s.connect(ctx, prev)
		case StateWorking:
			next = s.working(ctx)
		default:
			return fmt.Errorf("unknown session state %d", prev)
		}
		s.setState(next)
	}
}

// State returns the machine state for observers.
func (s *Session) State() State {
	return State(s.stateAtomic.Load())
}

// SN returns the highest processed event sequence number.
func (s *Session) SN() uint64 {
	return s.snAtomic.Load()
}

func (s *Session) setState(st State) {
	if st != s.state {
		s.logger.Debug("Session state changed", "from", s.state, "to", st)
	}
	s.state = st
	s.stateAtomic.Store(int32(st))
	s.metrics.SessionState(int(st))
}

// fetchGateway asks the API for a gateway URL, retrying in place on
// failure. GetGateway and Reconnect behave identically here.
func (s *Session) fetchGateway(ctx context.Context, from State) State {
	url, err := s.provider.Gateway(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return from
		}
		s.logger.Warn("Failed to fetch gateway url", "error", err)
		s.sleep(ctx, s.retryDelay)
		return from
	}
	s.gatewayURL = url
	s.dialURL = url
	return StateConnectGateway
}

// prepareResume builds the resume dial URL from the recorded session.
func (s *Session) prepareResume() State {
	s.dialURL = fmt.Sprintf("%s&resume=1&sn=%d&session_id=%s", s.gatewayURL, s.buf.Current(), s.sessionID)
	s.logger.Info("Resuming session", "sn", s.buf.Current(), "session_id", s.sessionID)
	return StateConnectGateway
}

// connect dials the gateway. Up to three attempts stay in the calling
// state with exponential sleeps between them; after the third failure the
// machine falls back to fetching a fresh gateway URL.
func (s *Session) connect(ctx context.Context, from State) State {
	c, err := s.dial(ctx, s.dialURL)
	if err != nil {
		if ctx.Err() != nil {
			return from
		}
		s.connectFails++
		s.logger.Warn("Gateway dial failed", "attempt", s.connectFails, "error", err)
		if s.connectFails >= maxConnectFailures {
			s.connectFails = 0
			s.connectBackoff.Reset()
			return StateGetGateway
		}
		s.sleep(ctx, s.connectBackoff.Next())
		return from
	}

	s.conn = c
	s.connectFails = 0
	s.connectBackoff.Reset()
	s.logger.Info("Gateway connected")
	s.bus.Publish(Notification{Kind: NotifyConnected})
	return StateWorking
}

// working runs the connected loop: a read pump feeds decoded frames into
// the select below, which also drives heartbeats and record persistence.
func (s *Session) working(ctx context.Context) State {
	defer s.closeConn()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan *Frame, frameChanCapacity)
	readErr := make(chan error, 1)
	go s.readPump(workCtx, s.conn, frames, readErr)

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()
	persistTicker := time.NewTicker(s.persistInterval)
	defer persistTicker.Stop()

	// Non-nil only while a ping waits for its pong.
	var pongWait <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return StateGetGateway

		case err := <-readErr:
			s.logger.Warn("Gateway read failed", "error", err)
			return StateGetGateway

		case frame := <-frames:
			if frame.Signal == SignalPong {
				pongWait = nil
				s.timeoutCount = 0
				s.heartbeatBackoff.Reset()
				s.heartbeatBackoff.Forward(1)
				s.logger.Debug("Pong received")
				s.bus.Publish(Notification{Kind: NotifyHeartbeat})
				continue
			}
			next, leave := s.handleFrame(frame)
			if leave {
				return next
			}

		case <-pingTicker.C:
			payload, err := pingPayload(s.buf.Current())
			if err != nil {
				s.logger.Error("Failed to encode ping", "error", err)
				continue
			}
			if err := s.conn.Write(workCtx, websocket.MessageText, payload); err != nil {
				s.logger.Warn("Failed to send ping", "error", err)
				return StateGetGateway
			}
			if pongWait == nil {
				pongWait = time.After(s.heartbeatBackoff.Next())
			}

		case <-pongWait:
			pongWait = nil
			s.timeoutCount++
			s.metrics.HeartbeatTimeout()
			s.logger.Warn("Pong timed out", "count", s.timeoutCount)
			if s.timeoutCount >= maxPongTimeouts {
				s.timeoutCount = 0
				return StateHeartTimeout
			}

		case <-persistTicker.C:
			s.persist()
		}
	}
}

func (s *Session) readPump(ctx context.Context, c conn, frames chan<- *Frame, readErr chan<- error) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			select {
			case readErr <- err:
			case <-ctx.Done():
			}
			return
		}
		frame, err := DecodeFrame(typ, data)
		if err != nil {
			s.logger.Warn("Failed to decode frame", "error", err)
			continue
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame processes one non-pong frame. leave reports that the
// working loop must exit into the returned state.
func (s *Session) handleFrame(f *Frame) (next State, leave bool) {
	if f.empty() {
		s.logger.Debug("Dropping empty frame")
		return 0, false
	}

	switch f.Signal {
	case SignalEvent:
		if f.SN == nil {
			s.logger.Debug("Dropping event frame without sequence number")
			return 0, false
		}
		if !s.buf.Insert(*f.SN, f.Data) {
			s.logger.Debug("Dropping stale event frame", "sn", *f.SN, "current", s.buf.Current())
			return 0, false
		}
		for _, payload := range s.buf.Release() {
			var msg kook.EventMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				s.logger.Warn("Failed to decode event message", "error", err)
				continue
			}
			s.bus.Publish(Notification{Kind: NotifyEvent, Message: &msg})
			s.metrics.EventDelivered()
		}
		s.snAtomic.Store(s.buf.Current())
		return 0, false

	case SignalHello, SignalResumeAck:
		var d helloData
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &d); err != nil {
				s.logger.Warn("Failed to decode hello payload", "error", err)
				return 0, false
			}
		}
		if d.Code != kook.CodeOK {
			s.logger.Error("Gateway rejected session", "code", d.Code)
			return StateGetGateway, true
		}
		if d.SessionID != "" {
			s.sessionID = d.SessionID
		}
		if f.Signal == SignalHello {
			s.logger.Info("Session established", "session_id", s.sessionID)
		} else {
			s.logger.Info("Session resumed", "session_id", s.sessionID, "sn", s.buf.Current())
		}
		return 0, false

	case SignalReconnect:
		s.logger.Warn("Gateway requested reconnect, discarding session state")
		s.buf.Reset(0)
		s.snAtomic.Store(0)
		s.sessionID = ""
		s.gatewayURL = ""
		s.dialURL = ""
		s.persist()
		return StateReconnect, true

	default:
		s.logger.Debug("Ignoring frame", "signal", f.Signal)
		return 0, false
	}
}

// persist writes the session record so a restart can resume.
func (s *Session) persist() {
	if s.record == nil {
		return
	}
	rec := &Record{SessionID: s.sessionID, SN: s.buf.Current(), Gateway: s.gatewayURL}
	if err := s.record.Write(rec); err != nil {
		s.logger.Warn("Failed to persist session record", "error", err)
	}
}

func (s *Session) closeConn() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
