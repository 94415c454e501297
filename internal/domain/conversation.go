package domain

import (
	"fmt"
	"strings"
	"time"
)

// Language is one of the two supported conversation languages.
type Language string

const (
	LanguageRU Language = "ru"
	LanguageEN Language = "en"
)

// Languages lists every supported language in display order.
var Languages = []Language{LanguageRU, LanguageEN}

// ParseLanguage accepts a language code in any case, including region-tagged
// forms such as "en-US".
func ParseLanguage(s string) (Language, error) {
	code := strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	for _, l := range Languages {
		if string(l) == code {
			return l, nil
		}
	}
	return "", fmt.Errorf("domain: unsupported language %q", s)
}

// Turn is a single persisted transcript entry.
type Turn struct {
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// Profile holds per-conversation quota counters and the language preference.
type Profile struct {
	ConversationID string
	Language       Language
	RequestCount   int
	IsUnlimited    bool
	CreatedAt      time.Time
}

// CachedDigest is one generated news digest row.
type CachedDigest struct {
	Language  Language
	Content   string
	CreatedAt time.Time
}

// FreshAt reports whether the digest is still within ttl at now.
func (d CachedDigest) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(d.CreatedAt) <= ttl
}
