// Package stream maintains the single push-event connection for an
// authenticated session. It decodes inbound frames into ChatEvents and
// delivers them to one subscriber callback. The client never reconnects on
// its own: an abnormal closure is reported through onError exactly once,
// and the reconnection policy belongs to the caller.
package stream

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/gorilla/websocket"
)

// DefaultPingInterval is how often the client sends its fire-and-forget
// keepalive frame. Intermediaries commonly drop idle connections after a
// minute; 25s stays well under that.
const DefaultPingInterval = 25 * time.Second

// writeWait bounds how long a single frame write may block.
const writeWait = 10 * time.Second

// Connection states.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// Opts holds parameters for opening the event stream.
type Opts struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/chat/ws".
	URL string
	// Token authenticates the connection via the token query parameter.
	Token string
	// OnEvent receives every decoded event, including
	// connection.established. Required.
	OnEvent func(models.ChatEvent)
	// OnError is invoked exactly once on abnormal closure or transport
	// error. It is never invoked after a local Close. Required.
	OnError func(error)
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// PingInterval defaults to DefaultPingInterval.
	PingInterval time.Duration
}

// Handle is an open event-stream connection.
type Handle struct {
	conn *websocket.Conn

	mu     sync.Mutex
	state  State
	closed bool

	done    chan struct{}
	errOnce sync.Once
	onError func(error)
}

// Open dials the endpoint and starts delivering events. Events other than
// connection.established are suppressed until the server confirms
// establishment.
func Open(opts Opts) (*Handle, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("stream: URL is required")
	}
	if opts.OnEvent == nil {
		return nil, fmt.Errorf("stream: OnEvent is required")
	}
	if opts.OnError == nil {
		return nil, fmt.Errorf("stream: OnError is required")
	}

	endpoint, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("stream: parse URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("token", opts.Token)
	endpoint.RawQuery = query.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	interval := opts.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}

	conn, _, err := dialer.Dial(endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", opts.URL, err)
	}

	h := &Handle{
		conn:    conn,
		state:   StateOpen,
		done:    make(chan struct{}),
		onError: opts.OnError,
	}

	go h.readLoop(opts.OnEvent)
	go h.keepalive(interval)

	return h, nil
}

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Close performs a normal-code shutdown. Idempotent; never triggers
// onError.
func (h *Handle) Close() error {
	if !h.markClosed() {
		return nil
	}

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = h.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return h.conn.Close()
}

// isClosed reports whether Close has been called locally.
func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// markClosed transitions to StateClosed, returning false if the handle
// was already closed.
func (h *Handle) markClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	h.state = StateClosed
	close(h.done)
	return true
}

// fail reports a terminal failure to the subscriber exactly once and tears
// the connection down without a close handshake.
func (h *Handle) fail(err error) {
	if !h.markClosed() {
		return
	}
	h.conn.Close()
	h.errOnce.Do(func() { h.onError(err) })
}

// readLoop decodes inbound frames and delivers events. Malformed frames
// are logged and dropped; they never crash the subscriber.
func (h *Handle) readLoop(onEvent func(models.ChatEvent)) {
	established := false
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if h.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if h.markClosed() {
					h.conn.Close()
				}
				return
			}
			h.fail(fmt.Errorf("stream: connection lost: %w", err))
			return
		}

		ev, err := models.DecodeEvent(data)
		if err != nil {
			log.Printf("stream: dropping frame: %v", err)
			continue
		}
		if ev.Event == models.EventConnectionEstablished {
			established = true
		} else if !established {
			log.Printf("stream: dropping %s frame before establishment", ev.Event)
			continue
		}
		onEvent(ev)
	}
}

// keepalive sends a plain-text ping at a fixed interval while open. No
// reply is expected; the frame only defeats intermediary idle timeouts.
func (h *Handle) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := h.conn.SetWriteDeadline(deadline); err != nil {
				return
			}
			if err := h.conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				h.fail(fmt.Errorf("stream: keepalive write: %w", err))
				return
			}
		}
	}
}
