// Package livestats implements §4.10: the admin live-stats fanout. A
// single gather runs at most once per tick regardless of how many
// admin observers are attached, and the resulting snapshot is
// broadcast to every subscriber over its own WebSocket connection. A
// slower heartbeat keeps idle connections detectably alive, and a
// bounded subscriber set evicts its oldest-idle member on overflow.
package livestats

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shortlinkhq/shortlink/internal/jobqueue"
	"github.com/shortlinkhq/shortlink/internal/store"
)

const (
	gatherInterval    = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	maxSubscribers    = 64

	gatherTimeout = 5 * time.Second
)

// QueueStatser is the subset of jobqueue.Manager the hub depends on.
type QueueStatser interface {
	GetStats(ctx context.Context) ([]jobqueue.Stats, error)
}

// IndexReadiness is the subset of searchindex.Gateway the hub depends on.
type IndexReadiness interface {
	Ready() bool
}

// StoreReadiness is the subset of store.Store the hub depends on.
type StoreReadiness interface {
	Ping(ctx context.Context) bool
	TopLineCounts(ctx context.Context) (store.TopLineCounts, error)
}

// CacheReadiness is the subset of cache.Cache the hub depends on.
type CacheReadiness interface {
	Ping(ctx context.Context) bool
}

// ProcessStats is the process-level portion of a Snapshot.
type ProcessStats struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
}

// Snapshot is the periodic payload emitted to every subscriber.
type Snapshot struct {
	GeneratedAt         time.Time      `json:"generatedAt"`
	Queues              []jobqueue.Stats `json:"queues"`
	AnalyticsIndexReady bool           `json:"analyticsIndexReady"`
	StoreReady          bool           `json:"storeReady"`
	CacheReady          bool           `json:"cacheReady"`
	Process             ProcessStats   `json:"process"`
	Users               int64          `json:"users"`
	Links               int64          `json:"links"`
	ClicksToday         int64          `json:"clicksToday"`
}

// EventType distinguishes the three frame kinds a subscriber receives.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventHeartbeat EventType = "heartbeat"
	EventError     EventType = "error"
)

// Event is one frame sent down a subscriber's WebSocket connection.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Hub owns the subscriber set and the two periodic tasks (§5: "the
// live-stats fanout runs two periodic tasks, stats and heartbeat,
// shared across all subscribers").
type Hub struct {
	queues  QueueStatser
	index   IndexReadiness
	store   StoreReadiness
	cache   CacheReadiness
	logger  *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn       *websocket.Conn
	send       chan Event
	lastActive time.Time
}

// New builds a Hub. checkOrigin, when non-nil, is used verbatim as the
// upgrader's CheckOrigin; nil accepts same-origin only via the
// gorilla default.
func New(queues QueueStatser, index IndexReadiness, st StoreReadiness, c CacheReadiness, logger *slog.Logger, checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		queues: queues,
		index:  index,
		store:  st,
		cache:  c,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Run drives the two periodic tasks until ctx is cancelled. Call it
// once, from the process's composition root, alongside ServeWS's HTTP
// mounting.
func (h *Hub) Run(ctx context.Context) {
	gatherTicker := time.NewTicker(gatherInterval)
	defer gatherTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-gatherTicker.C:
			h.gatherAndBroadcast(ctx)
		case <-heartbeatTicker.C:
			h.broadcast(Event{Type: EventHeartbeat})
		}
	}
}

// gatherAndBroadcast computes one Snapshot and fans it to every
// subscriber. A gather failure does not terminate the stream — an
// error event is broadcast instead and the next tick retries.
func (h *Hub) gatherAndBroadcast(ctx context.Context) {
	snap, err := h.gather(ctx)
	if err != nil {
		h.logger.Warn("livestats gather failed", "error", err)
		h.broadcast(Event{Type: EventError, Error: err.Error()})
		return
	}
	h.broadcast(Event{Type: EventSnapshot, Snapshot: &snap})
}

func (h *Hub) gather(ctx context.Context) (Snapshot, error) {
	gctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	queues, err := h.queues.GetStats(gctx)
	if err != nil {
		return Snapshot{}, err
	}

	counts, err := h.store.TopLineCounts(gctx)
	if err != nil {
		return Snapshot{}, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		GeneratedAt:         time.Now(),
		Queues:              queues,
		AnalyticsIndexReady: h.index.Ready(),
		StoreReady:          h.store.Ping(gctx),
		CacheReady:          h.cache.Ping(gctx),
		Process: ProcessStats{
			Goroutines:     runtime.NumGoroutine(),
			HeapAllocBytes: mem.HeapAlloc,
		},
		Users:       counts.Users,
		Links:       counts.Links,
		ClicksToday: counts.ClicksToday,
	}, nil
}

// broadcast fans an Event to every subscriber's send channel,
// non-blocking — a subscriber whose channel is full is assumed dead
// and is dropped rather than stalling the broadcast for the rest.
func (h *Hub) broadcast(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- evt:
		default:
			h.logger.Warn("livestats subscriber send buffer full, dropping")
			delete(h.subs, s)
			close(s.send)
			s.conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		close(s.send)
		s.conn.Close()
		delete(h.subs, s)
	}
}

// register adds a subscriber, evicting the oldest-idle one first if
// the bounded set is already full.
func (h *Hub) register(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) >= maxSubscribers {
		h.evictOldestIdleLocked()
	}
	h.subs[s] = struct{}{}
}

func (h *Hub) evictOldestIdleLocked() {
	var oldest *subscriber
	for s := range h.subs {
		if oldest == nil || s.lastActive.Before(oldest.lastActive) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	delete(h.subs, oldest)
	close(oldest.send)
	if oldest.conn != nil {
		oldest.conn.Close()
	}
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.send)
}

// ServeWS upgrades r into a WebSocket and streams Events to it until
// the client disconnects or the request context is cancelled — both
// are clean cancellations that leave no work scheduled for this
// subscriber (§5).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("livestats websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Event, 8), lastActive: time.Now()}
	h.register(sub)
	defer h.unregister(sub)

	// Drain client frames on a background goroutine purely to detect
	// disconnects promptly; admin observers never send application data.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.send:
			if !ok {
				return
			}
			sub.lastActive = time.Now()
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
