package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadIdleTimeout  = 90 * time.Second
	defaultPingInterval     = 30 * time.Second
	writeTimeout            = 5 * time.Second
	subscriptionBuffer      = 256
)

// ErrConnClosed is returned when writing to a closed connection.
var ErrConnClosed = errors.New("relay connection closed")

// DialOptions tunes a relay connection.
type DialOptions struct {
	HandshakeTimeout time.Duration
	ReadIdleTimeout  time.Duration
	PingInterval     time.Duration
	Logger           *slog.Logger
}

func (o DialOptions) withDefaults() DialOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ReadIdleTimeout <= 0 {
		o.ReadIdleTimeout = defaultReadIdleTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Conn is one websocket connection to a relay, multiplexing subscriptions.
//
// A read goroutine dispatches EVENT, EOSE, CLOSED and NOTICE messages to
// subscriptions; a ping goroutine keeps the read deadline moving.
type Conn struct {
	url    string
	ws     *websocket.Conn
	opts   DialOptions
	logger *slog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*Subscription

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens a connection to relayURL.
func Dial(ctx context.Context, relayURL string, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: opts.HandshakeTimeout}).DialContext,
	}
	ws, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, &RelayError{Code: ErrCodeDialFailed, Relay: relayURL, Message: "websocket dial", Err: err}
	}

	_ = ws.SetReadDeadline(time.Now().Add(opts.ReadIdleTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.ReadIdleTimeout))
	})

	c := &Conn{
		url:    relayURL,
		ws:     ws,
		opts:   opts,
		logger: opts.Logger.With("relay", relayURL),
		subs:   make(map[string]*Subscription),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()

	c.logger.Debug("relay connected")
	return c, nil
}

// URL returns the relay address.
func (c *Conn) URL() string {
	return c.url
}

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Alive reports whether the connection is still open.
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Subscribe sends REQ for filters under subID.
func (c *Conn) Subscribe(subID string, filters nostr.Filters) (*Subscription, error) {
	sub := &Subscription{
		ID:     subID,
		relay:  c.url,
		events: make(chan *nostr.Event, subscriptionBuffer),
		gone:   make(chan struct{}),
		halt:   c.done,
	}

	c.mu.Lock()
	if !c.Alive() {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.subs[subID] = sub
	c.mu.Unlock()

	if err := c.write(&nostr.ReqEnvelope{SubscriptionID: subID, Filters: filters}); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe sends CLOSE for sub and stops delivering to it.
func (c *Conn) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	_, active := c.subs[sub.ID]
	delete(c.subs, sub.ID)
	c.mu.Unlock()

	sub.leave()
	if active && c.Alive() {
		closeMsg := nostr.CloseEnvelope(sub.ID)
		if err := c.write(&closeMsg); err != nil {
			c.logger.Debug("close subscription failed", "sub", sub.ID, "error", err)
		}
	}
}

// Close shuts the connection down and ends every open subscription.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) write(env nostr.Envelope) error {
	data, err := env.MarshalJSON()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.Alive() {
		return ErrConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		close(c.done)
		subs := c.subs
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()

		_ = c.ws.Close()

		for _, sub := range subs {
			var subErr error
			if err != nil {
				subErr = &RelayError{Code: ErrCodeDisconnected, Relay: c.url, Message: "connection lost", Err: err}
			} else {
				subErr = &RelayError{Code: ErrCodeDisconnected, Relay: c.url, Message: "connection closed"}
			}
			sub.finish(subErr)
		}
		if err != nil {
			c.logger.Debug("relay disconnected", "error", err)
		}
	})
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.Alive() {
				c.shutdown(err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadIdleTimeout))
		c.handle(data)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// handle dispatches one relay message. Runs on the read goroutine only.
func (c *Conn) handle(data []byte) {
	switch env := nostr.ParseMessage(data).(type) {
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			return
		}
		if sub := c.lookup(*env.SubscriptionID); sub != nil {
			evt := env.Event
			sub.deliver(&evt)
		}

	case *nostr.EOSEEnvelope:
		if sub := c.detach(string(*env)); sub != nil {
			sub.finish(nil)
		}

	case *nostr.ClosedEnvelope:
		if sub := c.detach(env.SubscriptionID); sub != nil {
			sub.finish(&RelayError{Code: ErrCodeClosed, Relay: c.url, Message: env.Reason})
		}

	case *nostr.NoticeEnvelope:
		c.logger.Warn("relay notice", "error", &RelayError{Code: ErrCodeNotice, Relay: c.url, Message: string(*env)})

	case nil:
		c.logger.Warn("dropped malformed relay message", "raw_len", len(data))

	default:
		c.logger.Debug("ignored relay message", "label", env.Label())
	}
}

func (c *Conn) lookup(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Conn) detach(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	delete(c.subs, id)
	return sub
}

// Subscription is one REQ on a connection.
//
// Events yields matching events and is closed at EOSE, on CLOSED, or when the
// connection drops; Err then tells which.
type Subscription struct {
	ID    string
	relay string

	events chan *nostr.Event
	gone   chan struct{}   // closed by leave
	halt   <-chan struct{} // the connection's done channel

	leaveOnce sync.Once

	mu       sync.Mutex
	finished bool
	err      error
}

// Events returns the event stream.
func (s *Subscription) Events() <-chan *nostr.Event {
	return s.events
}

// Err returns nil after EOSE, or the reason the subscription ended early.
// Only meaningful once Events is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// deliver holds s.mu so finish cannot close the channel mid-send. A full
// buffer blocks it until the consumer reads, leaves, or the connection
// shuts down; neither leave nor shutdown needs s.mu to get there.
func (s *Subscription) deliver(evt *nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	select {
	case s.events <- evt:
	case <-s.gone:
	case <-s.halt:
	}
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.events)
}

func (s *Subscription) leave() {
	s.leaveOnce.Do(func() { close(s.gone) })
}
