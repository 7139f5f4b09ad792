package cache

import "fmt"

// Key builders for the keyspaces named in §6 ("Persisted state layout").
// Centralised here so every package that touches the cache agrees on the
// exact key shape.

func LinkKey(code string) string { return "link:" + code }

func SessionKey(sessionID string) string { return "session:" + sessionID }

func BlacklistKey(token string) string { return "blacklist:" + token }

func LoginAttemptKey(email, ip string) string {
	return fmt.Sprintf("login:attempt:%s:%s", email, ip)
}

const PopularLinksKey = "popular:links"

func AnalyticsEventKey(event, yyyymmdd string) string {
	return fmt.Sprintf("analytics:%s:%s", event, yyyymmdd)
}

func UserByIDKey(id string) string { return "user:id:" + id }

func UserByEmailKey(email string) string { return "user:email:" + email }
