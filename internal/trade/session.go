package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/binance"
	"github.com/coachpo/meltica-trader/internal/observability"
	"github.com/coachpo/meltica-trader/lib/async"
)

const (
	defaultRenewInterval     = 30 * time.Minute
	defaultHeartbeatInterval = 10 * time.Second
	defaultMaxRenewFailures  = 3
)

// SessionState tracks the listen key and stream lifecycle.
type SessionState int32

const (
	StateUninitialized SessionState = iota
	StateKeyAcquired
	StateStreamConnected
	StateActive
	StateRenewing
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateKeyAcquired:
		return "key_acquired"
	case StateStreamConnected:
		return "stream_connected"
	case StateActive:
		return "active"
	case StateRenewing:
		return "renewing"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ListenKeyService manages the user data stream token.
type ListenKeyService interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	DeleteListenKey(ctx context.Context, listenKey string) error
}

// StreamConn is the streaming transport a session drives.
type StreamConn interface {
	Start(ctx context.Context)
	Ping(ctx context.Context) error
	Close()
}

// StreamFactory builds the streaming transport for a listen-key scoped URL.
type StreamFactory func(opts binance.StreamOptions) StreamConn

// DialBinance builds the websocket transport.
func DialBinance(opts binance.StreamOptions) StreamConn {
	return binance.NewStream(opts)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	WSS               string
	Keys              ListenKeyService
	Dial              StreamFactory
	OnConnected       func(context.Context)
	OnMessage         func(context.Context, []byte)
	Notifier          Notifier
	RenewInterval     time.Duration
	HeartbeatInterval time.Duration
	MaxRenewFailures  int
	Logger            observability.Logger
	Metrics           *observability.Metrics
}

// Session acquires the listen key, runs the stream and keeps both alive. Renewal and
// heartbeat failures are reported but never tear the session down.
type Session struct {
	opts    SessionOptions
	logger  observability.Logger
	metrics *observability.Metrics

	state         atomic.Int32
	renewFailures atomic.Int64

	mu        sync.Mutex
	listenKey string
	stream    StreamConn
	ticker    *async.Ticker
}

// NewSession builds a session in the uninitialized state.
func NewSession(opts SessionOptions) *Session {
	if opts.Dial == nil {
		opts.Dial = DialBinance
	}
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = defaultRenewInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.MaxRenewFailures <= 0 {
		opts.MaxRenewFailures = defaultMaxRenewFailures
	}
	return &Session{
		opts:    opts,
		logger:  observability.OrDefault(opts.Logger),
		metrics: opts.Metrics,
	}
}

// Start acquires the listen key and opens the stream. A failed acquisition is fatal: the
// session moves to FAILED, reports initialization failure and does not retry.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateKeyAcquired)) {
		return fmt.Errorf("session already started (state %s)", s.State())
	}

	listenKey, err := s.opts.Keys.CreateListenKey(ctx)
	if err != nil {
		s.state.Store(int32(StateFailed))
		err = errs.New(platformBinance, errs.CodeUnavailable,
			errs.WithMessage("acquire listen key"),
			errs.WithCanonicalCode(errs.CanonicalInitFailed),
			errs.WithCause(err))
		s.logger.Error("listen key acquisition failed", observability.F("error", err))
		s.opts.Notifier.Error(ctx, err)
		s.opts.Notifier.InitDone(ctx, false, err)
		return err
	}

	stream := s.opts.Dial(binance.StreamOptions{
		URL:         binance.StreamURL(s.opts.WSS, listenKey),
		OnConnected: s.connected,
		OnMessage:   s.opts.OnMessage,
		OnError:     s.disconnected,
		Logger:      s.logger,
	})
	ticker := async.NewTicker(ctx)

	s.mu.Lock()
	s.listenKey = listenKey
	s.stream = stream
	s.ticker = ticker
	s.mu.Unlock()

	ticker.Every(s.opts.RenewInterval, s.renew)
	ticker.Every(s.opts.HeartbeatInterval, s.heartbeat)
	stream.Start(ctx)
	s.logger.Info("user data session started",
		observability.F("renew_interval", s.opts.RenewInterval.String()),
		observability.F("heartbeat_interval", s.opts.HeartbeatInterval.String()))
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// RenewFailures returns the number of consecutive failed renewals.
func (s *Session) RenewFailures() int {
	return int(s.renewFailures.Load())
}

// ListenKey returns the acquired listen key, empty before acquisition.
func (s *Session) ListenKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenKey
}

// Close stops the periodic actions and the stream, then revokes the listen key.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	ticker, stream, listenKey := s.ticker, s.stream, s.listenKey
	s.ticker, s.stream = nil, nil
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stream != nil {
		stream.Close()
	}
	prev := s.State()
	s.state.Store(int32(StateClosed))
	if listenKey == "" || prev == StateClosed {
		return nil
	}
	if err := s.opts.Keys.DeleteListenKey(ctx, listenKey); err != nil {
		return fmt.Errorf("revoke listen key: %w", err)
	}
	return nil
}

func (s *Session) connected(ctx context.Context) {
	s.transition(StateStreamConnected)
	if s.opts.OnConnected != nil {
		s.opts.OnConnected(ctx)
	}
	s.state.CompareAndSwap(int32(StateStreamConnected), int32(StateActive))
}

func (s *Session) disconnected(err error) {
	s.logger.Warn("user data stream interrupted", observability.F("error", err))
	s.transition(StateKeyAcquired)
}

// transition moves between live states and leaves FAILED and CLOSED untouched.
func (s *Session) transition(next SessionState) {
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateFailed || SessionState(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (s *Session) renew(ctx context.Context) {
	renewing := s.state.CompareAndSwap(int32(StateActive), int32(StateRenewing))
	defer func() {
		if renewing {
			s.state.CompareAndSwap(int32(StateRenewing), int32(StateActive))
		}
	}()

	err := s.opts.Keys.KeepAliveListenKey(ctx, s.ListenKey())
	s.metrics.RecordRenewal(ctx, err)
	if err == nil {
		s.renewFailures.Store(0)
		s.logger.Debug("listen key renewed")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	failures := s.renewFailures.Add(1)
	s.logger.Error("listen key renewal failed",
		observability.F("consecutive_failures", failures),
		observability.F("error", err))
	if failures%int64(s.opts.MaxRenewFailures) == 0 {
		s.opts.Notifier.Error(ctx, errs.New(platformBinance, errs.CodeUnavailable,
			errs.WithMessage(fmt.Sprintf("listen key renewal failed %d consecutive times", failures)),
			errs.WithCanonicalCode(errs.CanonicalRenewalEscalation),
			errs.WithCause(err)))
	}
}

func (s *Session) heartbeat(ctx context.Context) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	err := stream.Ping(ctx)
	s.metrics.RecordHeartbeat(ctx, err)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("stream heartbeat failed", observability.F("error", err))
	}
}
