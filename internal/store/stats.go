package store

import "context"

// TopLineCounts is the {users, links, clicks-today} summary the
// live-stats fanout reports every tick.
type TopLineCounts struct {
	Users       int64
	Links       int64
	ClicksToday int64
}

// TopLineCounts queries the three headline counters in one round trip.
func (s *Store) TopLineCounts(ctx context.Context) (TopLineCounts, error) {
	var c TopLineCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM users),
			(SELECT count(*) FROM links WHERE deleted_at IS NULL),
			(SELECT count(*) FROM clicks WHERE timestamp >= date_trunc('day', now()))
	`).Scan(&c.Users, &c.Links, &c.ClicksToday)
	return c, err
}

// Ping reports whether the primary store is reachable, for live-stats
// readiness reporting.
func (s *Store) Ping(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}
