package searchindex

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/model"
)

// A Gateway constructed without a reachable Elasticsearch always degrades
// to mock mode rather than failing construction — callers start
// unauthenticated/offline and recover via Supervise.
func newMockGateway() *Gateway {
	return &Gateway{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), maxBackoff: time.Minute}
}

func TestMockMode_WritesAcceptedAndDropped(t *testing.T) {
	g := newMockGateway()
	require.False(t, g.Ready())

	err := g.TrackClick(context.Background(), ClickDocument{LinkID: "l1"})
	require.NoError(t, err)

	n, err := g.TrackClicksBatch(context.Background(), []ClickDocument{{LinkID: "l1"}, {LinkID: "l2"}})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMockMode_ReadsReturnEmptyAggregates(t *testing.T) {
	g := newMockGateway()

	stats, err := g.GetClickStats(context.Background(), "l1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Zero(t, stats.TotalClicks)
	require.Empty(t, stats.DailyClicks)

	docs, err := g.GetRealTimeClicks(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.Empty(t, docs)

	docs, total, err := g.SearchClicks(context.Background(), "u1", SearchFilters{}, 1, 10)
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Zero(t, total)
}

func TestDocumentFromClick(t *testing.T) {
	linkID := uuid.New()
	now := time.Now()
	click := model.Click{LinkID: linkID, IPAddress: "1.2.3.4", Timestamp: now, DeviceType: model.DeviceDesktop}
	link := model.Link{ID: linkID, ShortCode: "abc123", OriginalURL: "https://example.com"}

	doc := DocumentFromClick(click, link, "u1")
	require.Equal(t, linkID.String(), doc.LinkID)
	require.Equal(t, "abc123", doc.ShortCode)
	require.Equal(t, "1.2.3.4", doc.IPAddress)
	require.Equal(t, "desktop", doc.DeviceType)
}
