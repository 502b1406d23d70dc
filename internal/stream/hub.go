package stream

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
)

// ErrNoSymbols is returned by Subscribe when no usable symbol was given.
var ErrNoSymbols = errors.New("stream: at least one symbol is required")

// Subscription receives trades for its symbols on C until it is closed
// through Hub.Unsubscribe.
type Subscription struct {
	id      uint64
	symbols []string
	ch      chan *models.Trade
	closed  bool
	dropped atomic.Int64

	C <-chan *models.Trade
}

func (s *Subscription) Symbols() []string { return s.symbols }

// Dropped counts trades discarded because the subscriber fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// InterestFunc is told when a symbol gains its first subscriber (added) or
// loses its last one (removed). It runs outside the hub lock.
type InterestFunc func(symbol string, added bool)

// Hub maps symbol to the set of subscribers. Publish never blocks: a full
// subscriber buffer drops the trade for that subscriber only.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[uint64]*Subscription
	nextID   uint64
	buffer   int
	metrics  domrepo.Metrics
	interest InterestFunc
}

func NewHub(buffer int, metrics domrepo.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &Hub{
		subs:    make(map[string]map[uint64]*Subscription),
		buffer:  buffer,
		metrics: metrics,
	}
}

// OnInterest installs the first/last subscriber callback.
func (h *Hub) OnInterest(fn InterestFunc) {
	h.mu.Lock()
	h.interest = fn
	h.mu.Unlock()
}

func normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Subscribe attaches a new subscriber to every given symbol. Blank and
// duplicate symbols are ignored.
func (h *Hub) Subscribe(symbols ...string) (*Subscription, error) {
	symbols = normalize(symbols)
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	h.mu.Lock()
	h.nextID++
	ch := make(chan *models.Trade, h.buffer)
	sub := &Subscription{id: h.nextID, symbols: symbols, ch: ch, C: ch}
	var added []string
	for _, s := range symbols {
		set, ok := h.subs[s]
		if !ok {
			set = make(map[uint64]*Subscription)
			h.subs[s] = set
			added = append(added, s)
		}
		set[sub.id] = sub
	}
	interest := h.interest
	h.mu.Unlock()

	if interest != nil {
		for _, s := range added {
			interest(s, true)
		}
	}
	return sub, nil
}

// Unsubscribe detaches sub and closes its channel. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	var removed []string
	for _, s := range sub.symbols {
		set, ok := h.subs[s]
		if !ok {
			continue
		}
		if _, ok := set[sub.id]; !ok {
			continue
		}
		delete(set, sub.id)
		if len(set) == 0 {
			delete(h.subs, s)
			removed = append(removed, s)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	interest := h.interest
	h.mu.Unlock()

	if interest != nil {
		for _, s := range removed {
			interest(s, false)
		}
	}
}

// Publish fans t out to the subscribers of its symbol and returns how many
// received it.
func (h *Hub) Publish(t *models.Trade) int {
	if t == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs[t.Symbol] {
		select {
		case sub.ch <- t:
			delivered++
		default:
			sub.dropped.Add(1)
			h.metrics.RecordError("stream_subscriber_drop")
		}
	}
	return delivered
}

// Symbols returns the symbols with at least one subscriber.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (h *Hub) Subscribers(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[strings.ToUpper(symbol)])
}
