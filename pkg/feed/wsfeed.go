package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// WSFeed streams ticks over a websocket connection. Reconnects are handled
// transparently with exponential backoff up to a configured attempt cap;
// the owner only observes the Handlers callbacks.
type WSFeed struct {
	wsURL       string
	apiKey      string
	accessToken string
	dialTimeout time.Duration
	maxAttempts int
	handlers    Handlers
	logger      *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	tokens  []int64 // subscribed tokens, replayed after reconnect
	full    []int64 // tokens in full mode, replayed after reconnect
	closing bool
}

// NewWSFeed creates a websocket feed client. maxAttempts caps consecutive
// reconnect attempts before OnReconnectExhausted fires.
func NewWSFeed(wsURL, apiKey, accessToken string, dialTimeout time.Duration, maxAttempts int, logger *zap.Logger) *WSFeed {
	if maxAttempts <= 0 {
		maxAttempts = 50
	}
	return &WSFeed{
		wsURL:       wsURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		dialTimeout: dialTimeout,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SetHandlers registers the event callbacks. Must be called before Connect.
func (f *WSFeed) SetHandlers(h Handlers) {
	f.handlers = h
}

func (f *WSFeed) endpoint() (string, error) {
	u, err := url.Parse(f.wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", f.apiKey)
	q.Set("access_token", f.accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the upstream, fires OnConnect, and starts the read loop on
// its own goroutine.
func (f *WSFeed) Connect(ctx context.Context) error {
	endpoint, err := f.endpoint()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		f.logger.Error("failed to connect to feed", zap.String("url", f.wsURL), zap.Error(err))
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.closing = false
	f.mu.Unlock()

	f.logger.Info("feed connected", zap.String("url", f.wsURL))
	if f.handlers.OnConnect != nil {
		f.handlers.OnConnect()
	}

	go f.listen()
	return nil
}

// Subscribe starts tick delivery for the given tokens.
func (f *WSFeed) Subscribe(tokens []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append([]int64(nil), tokens...)
	return f.writeOp("subscribe", tokens)
}

// SetFullMode requests full tick payloads for the given tokens.
func (f *WSFeed) SetFullMode(tokens []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = append([]int64(nil), tokens...)
	return f.writeJSON(map[string]interface{}{
		"a": "mode",
		"v": []interface{}{"full", tokens},
	})
}

// Close tears down the connection; the read loop reports a final OnClose.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	if f.conn == nil {
		return nil
	}
	return f.conn.Close()
}

func (f *WSFeed) writeOp(op string, tokens []int64) error {
	return f.writeJSON(map[string]interface{}{
		"a": op,
		"v": tokens,
	})
}

// writeJSON must be called with f.mu held; gorilla connections do not allow
// concurrent writers.
func (f *WSFeed) writeJSON(v interface{}) error {
	if f.conn == nil {
		return fmt.Errorf("feed not connected")
	}
	if err := f.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("feed write failed: %w", err)
	}
	return nil
}

func (f *WSFeed) listen() {
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			closing := f.closing
			f.mu.Unlock()

			if closing {
				if f.handlers.OnClose != nil {
					f.handlers.OnClose(websocket.CloseNormalClosure, "closed by client")
				}
				return
			}

			f.logger.Error("feed read error", zap.Error(err))
			if f.handlers.OnError != nil {
				f.handlers.OnError(websocket.CloseAbnormalClosure, err.Error())
			}

			if !f.reconnect() {
				return
			}
			continue
		}

		f.handleMessage(msg)
	}
}

// reconnect retries the dial with exponential backoff, replaying the
// subscription state after each successful dial. Returns false once the
// attempt cap is reached (OnReconnectExhausted has fired) or Close was
// called mid-retry.
func (f *WSFeed) reconnect() bool {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Jitter: true,
	}

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		time.Sleep(b.Duration())

		f.mu.Lock()
		if f.closing {
			f.mu.Unlock()
			return false
		}
		f.mu.Unlock()

		if f.handlers.OnReconnect != nil {
			f.handlers.OnReconnect(attempt)
		}

		if err := f.redial(); err != nil {
			f.logger.Warn("feed reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		f.logger.Info("feed reconnected", zap.Int("attempt", attempt))
		return true
	}

	f.logger.Error("feed reconnect attempts exhausted", zap.Int("attempts", f.maxAttempts))
	if f.handlers.OnReconnectExhausted != nil {
		f.handlers.OnReconnectExhausted()
	}
	return false
}

func (f *WSFeed) redial() error {
	endpoint, err := f.endpoint()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.dialTimeout}
	newConn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.conn = newConn

	// Replay subscription state on the fresh connection.
	if len(f.tokens) > 0 {
		if err := f.writeOp("subscribe", f.tokens); err != nil {
			return err
		}
	}
	if len(f.full) > 0 {
		if err := f.writeJSON(map[string]interface{}{
			"a": "mode",
			"v": []interface{}{"full", f.full},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (f *WSFeed) handleMessage(msg []byte) {
	// Extract the type for early filtering; subscription acks and heartbeats
	// are not tick batches.
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &meta); err != nil {
		f.logger.Warn("failed to extract message type", zap.Error(err))
		return
	}
	if meta.Type != "tick" {
		return
	}

	var parsed tickMessage
	if err := json.Unmarshal(msg, &parsed); err != nil {
		f.logger.Warn("failed to parse tick payload", zap.Error(err))
		return
	}

	ticks, dropped := parseTicks(parsed)
	if dropped > 0 {
		f.logger.Warn("dropped malformed ticks", zap.Int("count", dropped))
	}
	if len(ticks) > 0 && f.handlers.OnTicks != nil {
		f.handlers.OnTicks(ticks)
	}
}
