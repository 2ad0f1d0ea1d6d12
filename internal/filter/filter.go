// Package filter implements the Market Filter: a pure classifier deciding
// whether a market belongs in the surveillance universe.
package filter

import (
	"regexp"
	"strings"
	"time"

	"surveillance/internal/config"
	"surveillance/pkg/types"
)

// defaultExcludePatterns mirrors the curated exclusion set: sports,
// entertainment metrics, weather, and single-asset price targets rarely
// carry informed-trading signal relevant to this engine.
var defaultExcludePatterns = []string{
	`(?i)\b(nfl|nba|mlb|nhl|soccer|premier league|world cup|olympics)\b`,
	`(?i)\b(box office|grammy|oscar|emmy|spotify (streams|chart))\b`,
	`(?i)\b(temperature|rainfall|snowfall|hurricane category)\b`,
	`(?i)\bwill (btc|eth|bitcoin|ethereum|sol|doge) (reach|hit|close above|close below) \$`,
}

// defaultIncludeKeywords mirrors the curated inclusion set.
var defaultIncludeKeywords = []string{
	"election", "president", "senate", "congress", "vote", "ballot",
	"regulatory", "legislation", "bill", "law", "court", "ruling",
	"fed", "fomc", "interest rate", "inflation", "gdp", "recession",
	"war", "ceasefire", "sanctions", "treaty", "summit",
	"crypto", "sec", "etf approval",
}

var defaultHotKeywords = []string{
	"resign", "indicted", "fomc", "ceasefire", "impeach", "coup",
}

// Priority multipliers the filter assigns to accepted markets.
const (
	PriorityHot    = 2.0
	PrioritySoon   = 1.5
	PriorityNormal = 1.0
)

// Filter classifies markets as in- or out-of-universe and assigns a
// priority multiplier. It is pure and deterministic given its rule set.
type Filter struct {
	exclude     []*regexp.Regexp
	include     []string
	hot         []string
	soonWithin  time.Duration
}

// New compiles a Filter from config, falling back to the curated defaults
// for any empty list.
func New(cfg config.FilterConfig) *Filter {
	excludePatterns := cfg.ExcludePatterns
	if len(excludePatterns) == 0 {
		excludePatterns = defaultExcludePatterns
	}
	include := cfg.IncludeKeywords
	if len(include) == 0 {
		include = defaultIncludeKeywords
	}
	hot := cfg.HotKeywords
	if len(hot) == 0 {
		hot = defaultHotKeywords
	}
	soonDays := cfg.SoonDays
	if soonDays <= 0 {
		soonDays = 7
	}

	exclude := make([]*regexp.Regexp, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			exclude = append(exclude, re)
		}
	}

	return &Filter{
		exclude:    exclude,
		include:    lower(include),
		hot:        lower(hot),
		soonWithin: time.Duration(soonDays) * 24 * time.Hour,
	}
}

func lower(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Decision is the Market Filter's verdict for one market.
type Decision struct {
	InUniverse bool
	Priority   float64
}

// Excluded reports whether m matches an exclusion pattern, independent of
// the inclusion-keyword requirement Classify applies for the surveillance
// universe. Used by the Discovery Pipeline's market ingest, which rejects
// excluded categories without requiring a topical-inclusion match.
func (f *Filter) Excluded(m types.Market) bool {
	haystack := strings.ToLower(m.Question + " " + m.Description)
	for _, re := range f.exclude {
		if re.MatchString(haystack) {
			return true
		}
	}
	return false
}

// Classify evaluates the filter rules in order: exclusion first, then
// inclusion keyword match, then priority boost.
func (f *Filter) Classify(m types.Market, now time.Time) Decision {
	haystack := strings.ToLower(m.Question + " " + m.Description)

	for _, re := range f.exclude {
		if re.MatchString(haystack) {
			return Decision{InUniverse: false}
		}
	}

	matched := false
	for _, kw := range f.include {
		if strings.Contains(haystack, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return Decision{InUniverse: false}
	}

	priority := PriorityNormal
	for _, kw := range f.hot {
		if strings.Contains(haystack, kw) {
			priority = PriorityHot
			break
		}
	}
	if priority == PriorityNormal && !m.EndDate.IsZero() && m.EndDate.Sub(now) <= f.soonWithin {
		priority = PrioritySoon
	}

	return Decision{InUniverse: true, Priority: priority}
}
