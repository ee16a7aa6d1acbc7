package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/event"
)

// Socket is the websocket Transport implementation.
type Socket struct {
	url    string
	logger *zap.Logger

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	closed bool

	events chan event.Event
	errs   chan error
}

// NewSocket creates a websocket transport for the given ws:// or wss:// URL.
func NewSocket(url string, logger *zap.Logger) *Socket {
	return &Socket{
		url:    url,
		logger: logger,
		events: make(chan event.Event, 256),
		errs:   make(chan error, 1),
	}
}

// Dial opens the websocket and starts the read pump. The credential is sent
// as a bearer token; the server associates the socket with the session.
func (s *Socket) Dial(ctx context.Context, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("transport already open")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", s.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.conn = conn
	s.closed = false
	go s.readPump(conn)
	return nil
}

// Send writes one event envelope. Fails when the socket is not open.
func (s *Socket) Send(name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("transport not connected")
	}
	env := outEnvelope{Event: name, Data: payload}
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// Events returns the decoded inbound event stream.
func (s *Socket) Events() <-chan event.Event { return s.events }

// Errors returns the read-failure stream.
func (s *Socket) Errors() <-chan error { return s.errs }

// Close tears down the socket. Safe to call multiple times; the read pump
// notices the closed connection and exits without reporting an error.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.closed = true
	err := s.conn.Close()
	s.conn = nil
	return err
}

// outEnvelope mirrors event.Envelope but keeps the payload structured so it
// is marshaled in place rather than pre-encoded.
type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (s *Socket) readPump(conn *websocket.Conn) {
	for {
		var env event.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.mu.Lock()
			wasClosed := s.closed
			if s.conn == conn {
				s.conn = nil
				_ = conn.Close()
			}
			s.mu.Unlock()
			if !wasClosed {
				select {
				case s.errs <- err:
				default:
				}
			}
			return
		}

		evt, err := event.Decode(env)
		if err != nil {
			var unknown *event.ErrUnknownKind
			if errors.As(err, &unknown) {
				s.logger.Debug("dropping unhandled event", zap.String("event", unknown.Name))
			} else {
				s.logger.Warn("malformed event payload", zap.String("event", env.Event), zap.Error(err))
			}
			continue
		}

		select {
		case s.events <- evt:
		default:
			s.logger.Warn("inbound event buffer full, dropping", zap.String("event", env.Event))
		}
	}
}
