// Package subscription holds one WebSocket connection to a telemetry feed and
// hands every decoded message to a callback until it is closed.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is the terminal error of a subscription closed by its owner.
var ErrClosed = errors.New("subscription closed")

// DecodeError reports a frame that was not a JSON object.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message from %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Handler receives one decoded feed message.
type Handler func(msg map[string]any)

// Option configures Open.
type Option func(*options)

type options struct {
	dialer *websocket.Dialer
	header http.Header
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHeader adds request headers to the handshake, e.g. an auth token.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// Subscription is a live connection to a feed endpoint.
type Subscription struct {
	endpoint string
	conn     *websocket.Conn

	// mu serializes delivery against Close so no handler runs after Close returns.
	mu        sync.Mutex
	closed    bool
	onMessage Handler
	onError   func(error)

	start      sync.Once
	closeOnce  sync.Once
	finishOnce sync.Once
	done       chan struct{}
	err        error
}

// Open dials the endpoint. It does not retry; a failed dial returns the error
// and nothing is ever delivered.
func Open(ctx context.Context, endpoint string, opts ...Option) (*Subscription, error) {
	o := options{dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}

	conn, resp, err := o.dialer.DialContext(ctx, endpoint, o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s (status %d): %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	return &Subscription{
		endpoint: endpoint,
		conn:     conn,
		done:     make(chan struct{}),
	}, nil
}

// Endpoint returns the feed URL.
func (s *Subscription) Endpoint() string { return s.endpoint }

// OnMessage registers the handler and starts delivery. Messages are delivered
// one at a time from a single goroutine. Only the first call starts the
// reader; later calls replace the handler.
func (s *Subscription) OnMessage(h Handler) {
	s.mu.Lock()
	s.onMessage = h
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	s.start.Do(func() { go s.readLoop() })
}

// OnError registers a callback for the error that ends the subscription,
// other than Close itself. Like the message handler, it must not call Close.
func (s *Subscription) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Done is closed once the subscription has terminated.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close terminates the connection. It is safe to call more than once and
// waits for an in-flight handler, so no handler runs once it returns. It must
// not be called from inside the handler.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		live := !s.closed
		s.closed = true
		s.mu.Unlock()

		if !live {
			// already failed with its own error; the reader is gone
			_ = s.conn.Close()
			return
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.finish(ErrClosed)
	})
	return err
}

func (s *Subscription) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("read from %s: %w", s.endpoint, err))
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			s.fail(&DecodeError{Endpoint: s.endpoint, Err: err})
			_ = s.conn.Close()
			return
		}

		if !s.deliver(msg) {
			return
		}
	}
}

func (s *Subscription) deliver(msg map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
	return true
}

// fail ends the subscription with err unless the owner closed it first. The
// error callback runs under mu, so a concurrent Close returns only after it.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.finish(err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Subscription) finish(err error) {
	s.finishOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}
