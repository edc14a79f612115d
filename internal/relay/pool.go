package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/roach88/threadline/internal/fetch"
)

const tracerName = "github.com/roach88/threadline/internal/relay"

const (
	// DefaultTimeout bounds one Load across all relays.
	DefaultTimeout = 8 * time.Second
	// DefaultRate is the steady REQ rate allowed per relay.
	DefaultRate = rate.Limit(5)
	// DefaultBurst is the REQ burst allowed per relay.
	DefaultBurst = 5
	// DefaultCacheTTL is how long fetched events are served from memory.
	DefaultCacheTTL = 10 * time.Minute
)

// Pool is a fetch.Fetcher over a set of lazily dialed relay connections.
//
// Each Load first answers what it can from an in-memory event cache, then
// sends one REQ per relay for the rest and forwards events as they arrive.
// OnDone fires once every relay has sent EOSE, refused, failed, or the
// request timed out. Events are not de-duplicated across relays.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	timeout time.Duration
	limit   rate.Limit
	burst   int
	dial    DialOptions
	subIDs  SubIDGenerator
	logger  *slog.Logger
	tracer  trace.Tracer
	events  *cache.Cache

	mu       sync.Mutex
	conns    map[string]*Conn
	limiters map[string]*rate.Limiter
	closed   bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithTimeout bounds each Load. Default: 8s.
func WithTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.timeout = d }
}

// WithRate sets the per-relay REQ rate and burst.
func WithRate(limit rate.Limit, burst int) PoolOption {
	return func(p *Pool) {
		p.limit = limit
		p.burst = burst
	}
}

// WithCacheTTL sets how long fetched events are kept in memory.
// Zero disables the cache.
func WithCacheTTL(ttl time.Duration) PoolOption {
	return func(p *Pool) {
		if ttl <= 0 {
			p.events = nil
			return
		}
		p.events = cache.New(ttl, 2*ttl)
	}
}

// WithDialOptions sets connection options.
func WithDialOptions(opts DialOptions) PoolOption {
	return func(p *Pool) { p.dial = opts }
}

// WithSubIDs sets the subscription id generator.
func WithSubIDs(gen SubIDGenerator) PoolOption {
	return func(p *Pool) { p.subIDs = gen }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPoolTracer sets the tracer for per-load and per-relay spans.
func WithPoolTracer(tracer trace.Tracer) PoolOption {
	return func(p *Pool) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// NewPool creates an empty pool. Connections are opened on first use.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		timeout:  DefaultTimeout,
		limit:    DefaultRate,
		burst:    DefaultBurst,
		subIDs:   UUIDv7Generator{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		events:   cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
		conns:    make(map[string]*Conn),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dial.Logger == nil {
		p.dial.Logger = p.logger
	}
	return p
}

// Load implements fetch.Fetcher. It returns immediately.
func (p *Pool) Load(ctx context.Context, req fetch.Request) {
	go p.load(ctx, fetch.Once(req))
}

func (p *Pool) load(ctx context.Context, req fetch.Request) {
	defer req.Done()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "relay.load", trace.WithAttributes(
		attribute.Int("relay.count", len(req.Relays)),
		attribute.Int("relay.filters", len(req.Filters)),
	))
	defer span.End()

	filters := req.Filters
	if cached := p.cached(filters); len(cached) > 0 {
		span.SetAttributes(attribute.Int("relay.cache_hits", len(cached)))
		req.Emit(cached)
		filters = fetch.Narrow(filters, cached)
	}
	if len(filters) == 0 || len(req.Relays) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, url := range req.Relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := p.query(ctx, url, filters, req); err != nil {
				p.logger.Debug("relay query failed", "relay", url, "error", err)
			}
		}(url)
	}
	wg.Wait()
}

// query runs one REQ against one relay until EOSE, CLOSED, disconnect or ctx.
func (p *Pool) query(ctx context.Context, url string, filters nostr.Filters, req fetch.Request) error {
	ctx, span := p.tracer.Start(ctx, "relay.query", trace.WithAttributes(attribute.String("relay.url", url)))
	defer span.End()

	if err := p.limiter(url).Wait(ctx); err != nil {
		rerr := &RelayError{Code: ErrCodeRateLimited, Relay: url, Message: "request budget exhausted", Err: err}
		span.SetStatus(codes.Error, rerr.Error())
		return rerr
	}

	conn, err := p.conn(ctx, url)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	sub, err := conn.Subscribe(p.subIDs.Generate(), filters)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer conn.Unsubscribe(sub)

	received := 0
	for {
		select {
		case <-ctx.Done():
			span.SetAttributes(attribute.Int("relay.events", received))
			return ctx.Err()

		case evt, ok := <-sub.Events():
			if !ok {
				span.SetAttributes(attribute.Int("relay.events", received))
				if err := sub.Err(); err != nil {
					span.SetStatus(codes.Error, err.Error())
					return err
				}
				return nil
			}
			// Relays occasionally answer with events the filter never asked for.
			if !filters.Match(evt) {
				continue
			}
			received++
			p.remember(evt)
			req.Emit([]*nostr.Event{evt})
		}
	}
}

// conn returns a live connection to url, dialing if needed.
func (p *Pool) conn(ctx context.Context, url string) (*Conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[url]; ok && c.Alive() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := Dial(ctx, url, p.dial)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = c.Close()
		return nil, ErrConnClosed
	}
	// Another query may have dialed the same relay meanwhile.
	if existing, ok := p.conns[url]; ok && existing.Alive() {
		_ = c.Close()
		return existing, nil
	}
	p.conns[url] = c
	return c, nil
}

func (p *Pool) limiter(url string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[url]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[url] = l
	}
	return l
}

// cached returns cached events answering the id filters.
func (p *Pool) cached(filters nostr.Filters) []*nostr.Event {
	if p.events == nil {
		return nil
	}
	var out []*nostr.Event
	for _, f := range filters {
		for _, id := range f.IDs {
			if v, ok := p.events.Get(id); ok {
				out = append(out, v.(*nostr.Event))
			}
		}
	}
	return out
}

func (p *Pool) remember(evt *nostr.Event) {
	if p.events != nil {
		p.events.SetDefault(evt.ID, evt)
	}
}

// Stats reports pool occupancy.
type Stats struct {
	Connections  int `json:"connections"`
	CachedEvents int `json:"cached_events"`
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{}
	for _, c := range p.conns {
		if c.Alive() {
			s.Connections++
		}
	}
	if p.events != nil {
		s.CachedEvents = p.events.ItemCount()
	}
	return s
}

// Close closes every connection. Loads already running finish with what
// they have.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Conn)
	p.closed = true
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
