package livestats

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/jobqueue"
	"github.com/shortlinkhq/shortlink/internal/store"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeQueues struct{ err error }

func (f fakeQueues) GetStats(ctx context.Context) ([]jobqueue.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []jobqueue.Stats{{Queue: jobqueue.QueueClickTracking, Pending: 3}}, nil
}

type fakeIndex struct{ ready bool }

func (f fakeIndex) Ready() bool { return f.ready }

type fakeStore struct {
	storeUp bool
	counts  store.TopLineCounts
}

func (f fakeStore) Ping(ctx context.Context) bool { return f.storeUp }
func (f fakeStore) TopLineCounts(ctx context.Context) (store.TopLineCounts, error) {
	return f.counts, nil
}

type fakeCache struct{ up bool }

func (f fakeCache) Ping(ctx context.Context) bool { return f.up }

func TestGather_PopulatesFromDependencies(t *testing.T) {
	h := New(fakeQueues{}, fakeIndex{ready: true}, fakeStore{storeUp: true, counts: store.TopLineCounts{Users: 5, Links: 9, ClicksToday: 42}}, fakeCache{up: true}, testLogger(), nil)

	snap, err := h.gather(context.Background())
	require.NoError(t, err)
	require.True(t, snap.AnalyticsIndexReady)
	require.True(t, snap.StoreReady)
	require.True(t, snap.CacheReady)
	require.Equal(t, int64(5), snap.Users)
	require.Equal(t, int64(9), snap.Links)
	require.Equal(t, int64(42), snap.ClicksToday)
	require.Len(t, snap.Queues, 1)
}

func TestGather_PropagatesDependencyError(t *testing.T) {
	h := New(fakeQueues{err: context.DeadlineExceeded}, fakeIndex{}, fakeStore{}, fakeCache{}, testLogger(), nil)

	_, err := h.gather(context.Background())
	require.Error(t, err)
}

func TestEvictOldestIdle_OnOverflow(t *testing.T) {
	h := New(fakeQueues{}, fakeIndex{}, fakeStore{}, fakeCache{}, testLogger(), nil)

	var subs []*subscriber
	for i := 0; i < maxSubscribers; i++ {
		s := &subscriber{send: make(chan Event, 1), lastActive: time.Now().Add(time.Duration(i) * time.Second)}
		h.subs[s] = struct{}{}
		subs = append(subs, s)
	}
	require.Len(t, h.subs, maxSubscribers)

	newest := &subscriber{send: make(chan Event, 1), lastActive: time.Now().Add(time.Hour)}
	h.register(newest)

	require.Len(t, h.subs, maxSubscribers)
	_, stillPresent := h.subs[subs[0]]
	require.False(t, stillPresent, "the oldest-idle subscriber should have been evicted")
	_, present := h.subs[newest]
	require.True(t, present)
}

func TestServeWS_RoundTrip(t *testing.T) {
	h := New(fakeQueues{}, fakeIndex{ready: true}, fakeStore{storeUp: true, counts: store.TopLineCounts{Users: 1, Links: 2, ClicksToday: 3}}, fakeCache{up: true}, testLogger(), nil)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	h.gatherAndBroadcast(context.Background())

	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, EventSnapshot, evt.Type)
	require.NotNil(t, evt.Snapshot)
	require.Equal(t, int64(1), evt.Snapshot.Users)
}

func TestServeWS_DisconnectUnregistersSubscriber(t *testing.T) {
	h := New(fakeQueues{}, fakeIndex{}, fakeStore{}, fakeCache{}, testLogger(), nil)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subs) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subs) == 0
	}, time.Second, 10*time.Millisecond)
}
