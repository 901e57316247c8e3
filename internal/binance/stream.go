package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/coachpo/meltica-trader/internal/observability"
)

const (
	defaultFrameBuffer = 256
	defaultPingTimeout = 5 * time.Second
	maxStreamFrameSize = 1 << 20
)

// StreamOptions configures the user data stream transport.
type StreamOptions struct {
	URL         string
	OnConnected func(context.Context)
	OnMessage   func(context.Context, []byte)
	OnError     func(error)
	FrameBuffer int
	PingTimeout time.Duration
	Logger      observability.Logger
}

// Stream maintains one websocket connection with automatic reconnection. OnConnected runs
// once per successful handshake, before any frame of that connection is delivered, and
// OnMessage receives frames in arrival order. Callbacks run on a dedicated goroutine so
// the read loop keeps servicing control frames while they block.
type Stream struct {
	url         string
	onConnected func(context.Context)
	onMessage   func(context.Context, []byte)
	onError     func(error)
	frameBuffer int
	pingTimeout time.Duration
	logger      observability.Logger

	connMu sync.RWMutex
	conn   *websocket.Conn

	started  atomic.Bool
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// StreamURL returns the user data stream endpoint scoped by listenKey.
func StreamURL(base, listenKey string) string {
	return strings.TrimRight(base, "/") + "/ws/" + listenKey
}

// NewStream builds a stream transport. Start runs it.
func NewStream(opts StreamOptions) *Stream {
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = defaultFrameBuffer
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	return &Stream{
		url:         opts.URL,
		onConnected: opts.OnConnected,
		onMessage:   opts.OnMessage,
		onError:     opts.OnError,
		frameBuffer: opts.FrameBuffer,
		pingTimeout: opts.PingTimeout,
		logger:      observability.OrDefault(opts.Logger),
		done:        make(chan struct{}),
	}
}

// Start runs the stream in the background until Close or ctx cancellation.
func (s *Stream) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	go func() {
		defer close(s.done)
		_ = s.run(ctx)
	}()
}

// Close stops reconnecting, closes the active connection and waits for the loop to exit.
func (s *Stream) Close() {
	s.cancelMu.Lock()
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	s.connMu.Unlock()
	<-s.done
}

// Connected reports whether a connection is currently established.
func (s *Stream) Connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// Ping sends a liveness probe and waits for the pong.
func (s *Stream) Ping(ctx context.Context) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return errors.New("binance: stream not connected")
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return fmt.Errorf("stream ping: %w", err)
	}
	return nil
}

func (s *Stream) run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			s.reportError(fmt.Errorf("dial user data stream: %w", err))
			if !sleep(ctx, backoffCfg.NextBackOff()) {
				return context.Canceled
			}
			continue
		}
		conn.SetReadLimit(maxStreamFrameSize)
		backoffCfg.Reset()

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.logger.Info("user data stream connected")

		err = s.serve(ctx, conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()

		if ctx.Err() != nil {
			return context.Canceled
		}
		s.reportError(fmt.Errorf("user data stream: %w", err))
		if !sleep(ctx, backoffCfg.NextBackOff()) {
			return context.Canceled
		}
	}
}

// serve reads frames until the connection fails and hands them to the callback goroutine.
func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) error {
	frames := make(chan []byte, s.frameBuffer)
	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		if s.onConnected != nil {
			s.onConnected(ctx)
		}
		for data := range frames {
			if s.onMessage != nil {
				s.onMessage(ctx, data)
			}
		}
	}()
	defer func() {
		close(frames)
		<-handlerDone
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.logger.Debug("user data stream frame", observability.F("payload", string(data)))
		select {
		case frames <- data:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return ctx.Err()
		}
	}
}

func (s *Stream) reportError(err error) {
	if err == nil {
		return
	}
	s.logger.Warn("user data stream error", observability.F("error", err))
	if s.onError != nil {
		s.onError(err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
