package volatility

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	domrepo "SignalPipe/internal/domain/repository"
	applogger "SignalPipe/pkg/logger"

	"github.com/gorilla/websocket"
)

// StreamConfig configures StreamSource.
type StreamConfig struct {
	URL            string
	APIKey         string
	Symbol         string
	Elevated       float64
	High           float64
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	MaxStaleness   time.Duration
}

// StreamSource keeps the last trade price of the volatility ETF from a
// WebSocket trade stream.
type StreamSource struct {
	cfg StreamConfig
	l   *applogger.Logger
	now func() time.Time

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	last      float64
	lastAt    time.Time
}

func NewStreamSource(cfg StreamConfig, l *applogger.Logger) *StreamSource {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = 5 * time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &StreamSource{cfg: cfg, l: l, now: time.Now}
}

func (s *StreamSource) Name() string { return s.cfg.Symbol }

// Latest returns the last streamed price if it is fresh.
func (s *StreamSource) Latest(_ context.Context) (domrepo.VolatilityReading, error) {
	s.mu.RLock()
	last, at := s.last, s.lastAt
	s.mu.RUnlock()

	if at.IsZero() || s.now().Sub(at) > s.cfg.MaxStaleness {
		return domrepo.VolatilityReading{}, fmt.Errorf("%s stream: %w", s.cfg.Symbol, domrepo.ErrNoData)
	}
	return domrepo.VolatilityReading{
		Value:    last,
		Source:   s.cfg.Symbol,
		Elevated: s.cfg.Elevated,
		High:     s.cfg.High,
		AsOf:     at,
	}, nil
}

// IsConnected indicates status.
func (s *StreamSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Run connects and reads until ctx is cancelled, reconnecting after errors.
func (s *StreamSource) Run(ctx context.Context) {
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.l.Warn("volatility stream disconnected",
				applogger.String("symbol", s.cfg.Symbol),
				applogger.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *StreamSource) connect(ctx context.Context) (*websocket.Conn, error) {
	u := s.cfg.URL
	if s.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", s.cfg.URL, s.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stream connect: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s.cfg.Symbol}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.cfg.Symbol, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.l.Info("volatility stream connected", applogger.String("symbol", s.cfg.Symbol))
	return conn, nil
}

type streamTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type streamMessage struct {
	Type string        `json:"type"`
	Data []streamTrade `json:"data"`
}

// session runs one connection until a read error or ctx cancellation.
func (s *StreamSource) session(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.markDisconnected(conn)

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				// unblock ReadMessage
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if sessCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream read: %w", err)
		}
		var m streamMessage
		if err := json.Unmarshal(b, &m); err != nil {
			// ignore non-trade frames
			continue
		}
		if m.Type != "trade" {
			continue
		}
		for _, d := range m.Data {
			if d.S != s.cfg.Symbol || d.P <= 0 {
				continue
			}
			s.observe(d.P, time.UnixMilli(d.T))
		}
	}
}

func (s *StreamSource) observe(price float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.Before(s.lastAt) {
		return
	}
	s.last = price
	s.lastAt = at
}

func (s *StreamSource) markDisconnected(conn *websocket.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connected = false
	}
	s.mu.Unlock()
}

// Close closes the WS connection.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
