// Package searchindex implements §4.3: the analytics index gateway.
// Clicks are appended to an Elasticsearch "clicks" index for dashboard
// aggregation queries. When the backend is unreachable the gateway falls
// back to mock mode: writes are accepted and dropped, reads return empty
// aggregates, and Ready reports false so callers can degrade visibly.
package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	elastic "gopkg.in/olivere/elastic.v5"

	"github.com/shortlinkhq/shortlink/internal/model"
)

const (
	clicksIndex        = "clicks"
	analyticsDailyIndex = "analytics-daily"
)

// ClickDocument is one indexed click, matching §4.3's document schema.
type ClickDocument struct {
	LinkID      string    `json:"linkId"`
	UserID      string    `json:"userId"`
	ShortCode   string    `json:"shortCode"`
	OriginalURL string    `json:"originalUrl"`
	Campaign    string    `json:"campaign"`
	Timestamp   time.Time `json:"timestamp"`
	IPAddress   string    `json:"ipAddress"`
	Country     string    `json:"country"`
	City        string    `json:"city"`
	DeviceType  string    `json:"deviceType"`
	Browser     string    `json:"browser"`
	OS          string    `json:"os"`
	Referrer    string    `json:"referrer"`
	UserAgent   string    `json:"userAgent"`
}

// DocumentFromClick builds a ClickDocument from a primary-store Click plus
// the Link fields needed for the facet schema. Missing facets are
// rendered as "Unknown" at query time, not at write time.
func DocumentFromClick(c model.Click, link model.Link, userID string) ClickDocument {
	return ClickDocument{
		LinkID:      link.ID.String(),
		UserID:      userID,
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		Campaign:    link.Campaign,
		Timestamp:   c.Timestamp,
		IPAddress:   c.IPAddress,
		Country:     c.Country,
		City:        c.City,
		DeviceType:  string(c.DeviceType),
		Browser:     c.Browser,
		OS:          c.OS,
		Referrer:    c.Referrer,
		UserAgent:   c.UserAgent,
	}
}

// ClickStats is the aggregate result of getClickStats.
type ClickStats struct {
	TotalClicks  int64
	UniqueClicks int64
	DailyClicks  []DailyCount
	TopCountries []FacetCount
	TopDevices   []FacetCount
	TopBrowsers  []FacetCount
}

// DailyCount is one day's click total.
type DailyCount struct {
	Date   string
	Clicks int64
}

// FacetCount is one bucket of a terms aggregation.
type FacetCount struct {
	Value string
	Count int64
}

// Gateway is the analytics index gateway.
type Gateway struct {
	client *elastic.Client
	logger *slog.Logger

	ready   bool
	maxBackoff time.Duration
}

// New dials Elasticsearch at url with optional basic auth. On failure it
// still returns a usable Gateway running in mock mode — callers should
// start Supervise to retry in the background, and check Ready before
// depending on index results.
func New(ctx context.Context, url, username, password string, logger *slog.Logger) *Gateway {
	g := &Gateway{logger: logger, maxBackoff: 2 * time.Minute}
	g.connect(ctx, url, username, password)
	return g
}

func (g *Gateway) connect(ctx context.Context, url, username, password string) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheckTimeoutStartup(5 * time.Second),
	}
	if username != "" {
		opts = append(opts, elastic.SetBasicAuth(username, password))
	}

	client, err := elastic.NewClient(opts...)
	if err != nil {
		g.logger.Warn("analytics index unreachable, running in mock mode", "error", err)
		g.ready = false
		return
	}
	if _, _, err := client.Ping(url).Do(ctx); err != nil {
		g.logger.Warn("analytics index ping failed, running in mock mode", "error", err)
		g.ready = false
		return
	}
	g.client = client
	g.ready = true
}

// Ready reports whether the backend responded to a ping within the last
// probe. The resolver and dashboards consult this to decide whether to
// degrade (§4.3 fallback mode).
func (g *Gateway) Ready() bool { return g.ready }

// Supervise runs a background reconnect loop with exponential backoff
// (bounded by maxBackoff) while the gateway is not ready. Returns when ctx
// is cancelled.
func (g *Gateway) Supervise(ctx context.Context, url, username, password string, logger *slog.Logger) {
	backoff := 2 * time.Second
	ticker := time.NewTimer(backoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.ready {
				g.connect(ctx, url, username, password)
				if g.ready {
					logger.Info("analytics index reconnected")
					backoff = 2 * time.Second
				} else {
					backoff *= 2
					if backoff > g.maxBackoff {
						backoff = g.maxBackoff
					}
				}
			} else if _, _, err := g.client.Ping(url).Do(ctx); err != nil {
				g.ready = false
				logger.Warn("analytics index ping failed, entering mock mode", "error", err)
			}
			ticker.Reset(backoff)
		}
	}
}

// TrackClick indexes a single document. In mock mode the write is
// accepted and dropped.
func (g *Gateway) TrackClick(ctx context.Context, doc ClickDocument) error {
	if !g.ready {
		return nil
	}
	_, err := g.client.Index().Index(clicksIndex).Type("click").BodyJson(doc).Do(ctx)
	if err != nil {
		return fmt.Errorf("searchindex: indexing click: %w", err)
	}
	return nil
}

// TrackClicksBatch bulk-writes docs. Returns the count that succeeded;
// the caller is responsible for re-queuing the remainder (§4.3).
func (g *Gateway) TrackClicksBatch(ctx context.Context, docs []ClickDocument) (int, error) {
	if !g.ready {
		return 0, nil
	}
	bulk := g.client.Bulk()
	for _, d := range docs {
		bulk.Add(elastic.NewBulkIndexRequest().Index(clicksIndex).Type("click").Doc(d))
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("searchindex: bulk indexing clicks: %w", err)
	}
	succeeded := 0
	for _, item := range resp.Indexed() {
		if item.Status >= 200 && item.Status < 300 {
			succeeded++
		}
	}
	return succeeded, nil
}

// GetClickStats computes the dashboard aggregate for a Link over
// [start, end]. Returns a zero-value ClickStats in mock mode.
func (g *Gateway) GetClickStats(ctx context.Context, linkID string, start, end time.Time) (ClickStats, error) {
	if !g.ready {
		return ClickStats{}, nil
	}

	query := elastic.NewBoolQuery().
		Must(elastic.NewTermQuery("linkId", linkID)).
		Must(elastic.NewRangeQuery("timestamp").Gte(start).Lte(end))

	search := g.client.Search().Index(clicksIndex).Query(query).Size(0).
		Aggregation("uniqueClicks", elastic.NewCardinalityAggregation().Field("ipAddress")).
		Aggregation("daily", elastic.NewDateHistogramAggregation().Field("timestamp").Interval("day")).
		Aggregation("countries", elastic.NewTermsAggregation().Field("country").Size(10)).
		Aggregation("devices", elastic.NewTermsAggregation().Field("deviceType").Size(10)).
		Aggregation("browsers", elastic.NewTermsAggregation().Field("browser").Size(10))

	resp, err := search.Do(ctx)
	if err != nil {
		return ClickStats{}, fmt.Errorf("searchindex: getClickStats: %w", err)
	}

	stats := ClickStats{TotalClicks: resp.TotalHits()}
	if card, ok := resp.Aggregations.Cardinality("uniqueClicks"); ok && card.Value != nil {
		stats.UniqueClicks = int64(*card.Value)
	}
	if daily, ok := resp.Aggregations.DateHistogram("daily"); ok {
		for _, b := range daily.Buckets {
			stats.DailyClicks = append(stats.DailyClicks, DailyCount{Date: b.KeyAsString, Clicks: b.DocCount})
		}
	}
	stats.TopCountries = facetBuckets(resp, "countries")
	stats.TopDevices = facetBuckets(resp, "devices")
	stats.TopBrowsers = facetBuckets(resp, "browsers")
	return stats, nil
}

func facetBuckets(resp *elastic.SearchResult, name string) []FacetCount {
	terms, ok := resp.Aggregations.Terms(name)
	if !ok {
		return nil
	}
	var out []FacetCount
	for _, b := range terms.Buckets {
		key := fmt.Sprintf("%v", b.Key)
		if key == "" {
			key = "Unknown"
		}
		out = append(out, FacetCount{Value: key, Count: b.DocCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// GetUserAnalytics returns aggregate stats across every Link owned by
// userID within the trailing window.
func (g *Gateway) GetUserAnalytics(ctx context.Context, userID string, window time.Duration) (ClickStats, error) {
	if !g.ready {
		return ClickStats{}, nil
	}
	end := time.Now()
	start := end.Add(-window)
	query := elastic.NewBoolQuery().
		Must(elastic.NewTermQuery("userId", userID)).
		Must(elastic.NewRangeQuery("timestamp").Gte(start).Lte(end))
	resp, err := g.client.Search().Index(clicksIndex).Query(query).Size(0).
		Aggregation("uniqueClicks", elastic.NewCardinalityAggregation().Field("ipAddress")).
		Do(ctx)
	if err != nil {
		return ClickStats{}, fmt.Errorf("searchindex: getUserAnalytics: %w", err)
	}
	stats := ClickStats{TotalClicks: resp.TotalHits()}
	if card, ok := resp.Aggregations.Cardinality("uniqueClicks"); ok && card.Value != nil {
		stats.UniqueClicks = int64(*card.Value)
	}
	return stats, nil
}

// GetRealTimeClicks returns the raw documents for userID within the last
// nMinutes, newest first.
func (g *Gateway) GetRealTimeClicks(ctx context.Context, userID string, nMinutes int) ([]ClickDocument, error) {
	if !g.ready {
		return nil, nil
	}
	since := time.Now().Add(-time.Duration(nMinutes) * time.Minute)
	query := elastic.NewBoolQuery().
		Must(elastic.NewTermQuery("userId", userID)).
		Must(elastic.NewRangeQuery("timestamp").Gte(since))
	resp, err := g.client.Search().Index(clicksIndex).Query(query).Sort("timestamp", false).Size(200).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("searchindex: getRealTimeClicks: %w", err)
	}
	return decodeHits(resp)
}

// SearchFilters narrows searchClicks.
type SearchFilters struct {
	Start      *time.Time
	End        *time.Time
	Campaign   string
	Country    string
	DeviceType string
	Text       string
}

// SearchClicks performs a paginated, filtered search over userID's
// clicks.
func (g *Gateway) SearchClicks(ctx context.Context, userID string, f SearchFilters, page, size int) ([]ClickDocument, int64, error) {
	if !g.ready {
		return nil, 0, nil
	}
	q := elastic.NewBoolQuery().Must(elastic.NewTermQuery("userId", userID))
	if f.Start != nil || f.End != nil {
		r := elastic.NewRangeQuery("timestamp")
		if f.Start != nil {
			r = r.Gte(*f.Start)
		}
		if f.End != nil {
			r = r.Lte(*f.End)
		}
		q = q.Must(r)
	}
	if f.Campaign != "" {
		q = q.Must(elastic.NewTermQuery("campaign", f.Campaign))
	}
	if f.Country != "" {
		q = q.Must(elastic.NewTermQuery("country", f.Country))
	}
	if f.DeviceType != "" {
		q = q.Must(elastic.NewTermQuery("deviceType", f.DeviceType))
	}
	if f.Text != "" {
		q = q.Must(elastic.NewMatchQuery("originalUrl", f.Text))
	}

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	resp, err := g.client.Search().Index(clicksIndex).Query(q).
		From((page - 1) * size).Size(size).Sort("timestamp", false).Do(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("searchindex: searchClicks: %w", err)
	}
	docs, err := decodeHits(resp)
	if err != nil {
		return nil, 0, err
	}
	return docs, resp.TotalHits(), nil
}

func decodeHits(resp *elastic.SearchResult) ([]ClickDocument, error) {
	out := make([]ClickDocument, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var d ClickDocument
		if err := json.Unmarshal(*hit.Source, &d); err != nil {
			return nil, fmt.Errorf("searchindex: decoding hit: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
