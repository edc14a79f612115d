package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

// RelayMode controls how a FakeRelay answers REQ.
type RelayMode int

const (
	// RelayAnswer sends matching events followed by EOSE.
	RelayAnswer RelayMode = iota
	// RelaySilent sends matching events and never sends EOSE.
	RelaySilent
	// RelayRefuse answers every REQ with CLOSED.
	RelayRefuse
)

// FakeRelay is a websocket relay backed by a fixed event set, served by
// httptest. It speaks enough of the relay protocol for pool tests: REQ,
// CLOSE, EVENT, EOSE, CLOSED and NOTICE.
type FakeRelay struct {
	server *httptest.Server

	mu      sync.Mutex
	events  []*nostr.Event
	mode    RelayMode
	notice  string
	extra   []*nostr.Event
	conns   int
	reqs    [][]string
	closes  []string
	sockets []*websocket.Conn
}

// NewFakeRelay starts a relay serving evts. The server stops on test cleanup.
func NewFakeRelay(t testing.TB, evts ...*nostr.Event) *FakeRelay {
	t.Helper()
	r := &FakeRelay{events: evts}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

// URL returns the ws:// address of the relay.
func (r *FakeRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

// SetMode changes how later REQs are answered.
func (r *FakeRelay) SetMode(mode RelayMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// SetNotice makes the relay send a NOTICE before answering each REQ.
func (r *FakeRelay) SetNotice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notice = msg
}

// SendUnrequested makes the relay append evts to every answer regardless of
// the filter, the way a misbehaving relay would.
func (r *FakeRelay) SendUnrequested(evts ...*nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extra = append(r.extra, evts...)
}

// Connections returns how many websocket connections were accepted.
func (r *FakeRelay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns
}

// Requests returns the subscription ids of every REQ received, in order.
func (r *FakeRelay) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req[0])
	}
	return out
}

// RequestedIDs returns the ids named by the filters of REQ i.
func (r *FakeRelay) RequestedIDs(i int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reqs[i][1:]...)
}

// Closes returns the subscription ids of every CLOSE received.
func (r *FakeRelay) Closes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closes...)
}

// DropConnections closes every open socket from the server side.
func (r *FakeRelay) DropConnections() {
	r.mu.Lock()
	sockets := r.sockets
	r.sockets = nil
	r.mu.Unlock()
	for _, ws := range sockets {
		_ = ws.Close()
	}
}

// Close stops the server.
func (r *FakeRelay) Close() {
	r.DropConnections()
	r.server.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (r *FakeRelay) serve(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns++
	r.sockets = append(r.sockets, ws)
	r.mu.Unlock()
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		switch env := nostr.ParseMessage(data).(type) {
		case *nostr.ReqEnvelope:
			for _, msg := range r.answer(env.SubscriptionID, env.Filters) {
				out, err := msg.MarshalJSON()
				if err != nil {
					return
				}
				if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
					return
				}
			}
		case *nostr.CloseEnvelope:
			r.mu.Lock()
			r.closes = append(r.closes, string(*env))
			r.mu.Unlock()
		}
	}
}

func (r *FakeRelay) answer(subID string, filters nostr.Filters) []nostr.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reqs = append(r.reqs, append([]string{subID}, FilterIDs(filters)...))

	var out []nostr.Envelope
	if r.notice != "" {
		notice := nostr.NoticeEnvelope(r.notice)
		out = append(out, &notice)
	}
	if r.mode == RelayRefuse {
		return append(out, &nostr.ClosedEnvelope{SubscriptionID: subID, Reason: "blocked: not allowed"})
	}
	for _, evt := range r.events {
		if filters.Match(evt) {
			out = append(out, eventEnvelope(subID, evt))
		}
	}
	for _, evt := range r.extra {
		out = append(out, eventEnvelope(subID, evt))
	}
	if r.mode == RelayAnswer {
		eose := nostr.EOSEEnvelope(subID)
		out = append(out, &eose)
	}
	return out
}

func eventEnvelope(subID string, evt *nostr.Event) *nostr.EventEnvelope {
	return &nostr.EventEnvelope{SubscriptionID: &subID, Event: *evt}
}
