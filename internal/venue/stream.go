package venue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/infra"
)

// OrderUpdate is a push message from the venue's user channel. The venue
// pushes fills but may not push cancellation confirmations; the
// reconciliation sweep remains authoritative for final state.
type OrderUpdate struct {
	VenueOrderID string          `json:"order_id"`
	Status       string          `json:"status"`
	FillSize     decimal.Decimal `json:"fill_size"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	Timestamp    int64           `json:"timestamp_ms"`
}

// Stream maintains the venue user-channel websocket, handling
// reconnection with backoff, read deadlines and thread-safe writes.
// Decoded order updates are handed to OnUpdate; transport errors never
// surface past the reconnect loop.
type Stream struct {
	url      string
	apiKey   string
	OnUpdate func(OrderUpdate)

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewStream creates a stream worker for the venue user channel.
func NewStream(url, apiKey string, onUpdate func(OrderUpdate)) *Stream {
	return &Stream{
		url:          url,
		apiKey:       apiKey,
		OnUpdate:     onUpdate,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start initiates the connection loop.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop(ctx)
}

// Stop terminates the worker.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.close()
	s.wg.Wait()
}

func (s *Stream) runLoop(ctx context.Context) {
	defer s.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			delay := infra.Backoff(retry+1, time.Second, time.Minute)
			retry++
			slog.Warn("venue stream connection failed",
				slog.Any("error", err),
				slog.Int("retry", retry),
				slog.Duration("backoff", delay))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		s.process(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	sub := map[string]string{"op": "subscribe", "channel": "user", "api_key": s.apiKey}
	payload, _ := json.Marshal(sub)
	if err := s.write(websocket.TextMessage, payload); err != nil {
		s.close()
		return err
	}

	if s.PingInterval > 0 {
		go s.pingLoop(ctx)
	}

	slog.Info("venue stream connected", slog.String("url", s.url))
	return nil
}

func (s *Stream) process(ctx context.Context) {
	for {
		s.mu.RLock()
		c := s.conn
		s.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("venue stream read error", slog.Any("error", err))
			s.close()
			return
		}

		var update OrderUpdate
		if err := json.Unmarshal(msg, &update); err != nil {
			slog.Warn("venue stream undecodable message", slog.Any("error", err))
			continue
		}
		if update.VenueOrderID == "" {
			continue // heartbeat or channel ack
		}
		if s.OnUpdate != nil {
			s.OnUpdate(update)
		}

		select {
		case <-ctx.Done():
			s.close()
			return
		default:
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			c := s.conn
			s.mu.RUnlock()
			if c == nil {
				return
			}
			if err := s.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("venue stream ping error", slog.Any("error", err))
				s.close()
				return
			}
		}
	}
}

func (s *Stream) write(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()

	if c == nil {
		return &NetworkError{Op: "stream_write", Err: errors.New("ws not connected")}
	}
	return c.WriteMessage(msgType, data)
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
