package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

const (
	maxReconnectDelay   = 30 * time.Second
	baseReconnectDelay  = 1 * time.Second
	maxConsecutiveFails = 5
	readLimit           = 1 << 20
)

// WSOptions tunes the live channel transport. Zero values use the defaults.
type WSOptions struct {
	Token       string
	MaxFailures int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// WSChannel subscribes to a feed server's per-session WebSocket. It
// reconnects with exponential backoff and gives up after MaxFailures
// consecutive failed dials. Disconnects and reconnects are reported on the
// event stream as transcript.KindLinkDown and transcript.KindLinkUp.
type WSChannel struct {
	baseURL string
	opts    WSOptions
}

// NewWSChannel creates a channel for the server at baseURL (http or https;
// the ws scheme is derived).
func NewWSChannel(baseURL string, opts WSOptions) *WSChannel {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = maxConsecutiveFails
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = baseReconnectDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = maxReconnectDelay
	}
	return &WSChannel{baseURL: baseURL, opts: opts}
}

// Subscribe implements transcript.Channel. The first dial happens before it
// returns so an unreachable server is reported right away.
func (c *WSChannel) Subscribe(ctx context.Context, req transcript.SubscribeRequest) (transcript.Subscription, error) {
	wsURL, err := c.wsURL(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	conn, err := c.dial(ctx, wsURL)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &wsSubscription{
		channel: c,
		url:     wsURL,
		events:  make(chan transcript.LiveEvent, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx, conn)
	return s, nil
}

func (c *WSChannel) wsURL(req transcript.SubscribeRequest) (string, error) {
	u, err := sessionURL(c.baseURL, req.SessionID, "ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if req.ConnectionID != "" {
		q.Set("conn", req.ConnectionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WSChannel) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if c.opts.Token != "" {
		opts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + c.opts.Token},
		}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("dial live channel: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (c *WSChannel) backoff(failures int) time.Duration {
	delay := time.Duration(float64(c.opts.BaseDelay) * math.Pow(2, float64(min(failures-1, 5))))
	return min(delay, c.opts.MaxDelay)
}

type wsSubscription struct {
	channel *WSChannel
	url     string
	events  chan transcript.LiveEvent
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

func (s *wsSubscription) Events() <-chan transcript.LiveEvent { return s.events }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription and waits for the reader to exit.
func (s *wsSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *wsSubscription) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.events)

	for {
		err := s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			conn.Close(websocket.StatusNormalClosure, "client closing")
			return
		}
		conn.CloseNow()
		tuilog.Log.Warn("Live channel disconnected", "url", s.url, "error", err)
		if !s.emit(ctx, transcript.LiveEvent{Kind: transcript.KindLinkDown}) {
			return
		}

		conn = s.reconnect(ctx, err)
		if conn == nil {
			return
		}
		if !s.emit(ctx, transcript.LiveEvent{Kind: transcript.KindLinkUp}) {
			conn.CloseNow()
			return
		}
	}
}

// emit delivers ev unless ctx ends first.
func (s *wsSubscription) emit(ctx context.Context, ev transcript.LiveEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// reconnect dials until it succeeds, the context ends, or the failure budget
// is spent. It returns nil in the latter two cases.
func (s *wsSubscription) reconnect(ctx context.Context, cause error) *websocket.Conn {
	c := s.channel
	for failures := 1; ; failures++ {
		delay := c.backoff(failures)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}

		conn, err := c.dial(ctx, s.url)
		if err == nil {
			tuilog.Log.Info("Live channel reconnected", "url", s.url, "attempts", failures)
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		cause = err
		tuilog.Log.Warn("Live channel reconnect failed", "url", s.url, "failures", failures, "error", err)
		if failures >= c.opts.MaxFailures {
			s.mu.Lock()
			s.err = fmt.Errorf("giving up after %d reconnect attempts: %w", failures, cause)
			s.mu.Unlock()
			return nil
		}
	}
}

func (s *wsSubscription) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var ev transcript.LiveEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			tuilog.Log.Debug("Failed to parse live frame", "error", err)
			continue
		}
		if transcript.IsLinkKind(ev.Kind) {
			tuilog.Log.Warn("Dropped live frame with reserved kind", "url", s.url, "kind", ev.Kind)
			continue
		}

		if !s.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}
