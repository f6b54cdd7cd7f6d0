package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is the subset of *websocket.Conn a Stream needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error)
}

// WebsocketDialer adapts a gorilla dialer to Dialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebsocketDialer returns a dialer with the given handshake timeout.
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{Dialer: &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}}
}

func (d *WebsocketDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("signalr: stream closed")

// Stream is one open SignalR websocket.
type Stream struct {
	conn      Conn
	logger    *zap.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Open dials url and returns the stream; the read loop is started by Run.
func Open(ctx context.Context, dialer Dialer, url string, header http.Header, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signalr connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signalr connect: %w", err)
	}
	logger.Debug("signalr.connected")
	return &Stream{conn: conn, logger: logger, closed: make(chan struct{})}, nil
}

// Send writes v as a JSON text message.
func (s *Stream) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal signalr message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send signalr message: %w", err)
	}
	return nil
}

// Run reads frames and passes each decoded frame to handle until the
// connection fails or Close is called. Undecodable frames are logged and
// skipped. Returns nil after Close.
func (s *Stream) Run(handle func(Frame)) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("signalr.closed_by_server")
				return fmt.Errorf("signalr: connection closed by server: %w", err)
			}
			return fmt.Errorf("signalr read: %w", err)
		}

		select {
		case <-s.closed:
			return nil
		default:
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			s.logger.Warn("signalr.frame_undecodable", zap.ByteString("payload", data), zap.Error(err))
			continue
		}
		handle(frame)
	}
}

// Close sends a close frame and closes the connection. Safe to call more
// than once; the connection is closed exactly once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
		s.logger.Debug("signalr.stream_closed")
	})
	return s.closeErr
}

// Done is closed once Close has been called.
func (s *Stream) Done() <-chan struct{} {
	return s.closed
}
