package model

import (
	"maps"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
)

// Provider names an external metadata source whose ids both services know.
type Provider string

const (
	ProviderIMDB  Provider = "imdb"
	ProviderTMDB  Provider = "tmdb"
	ProviderTVDB  Provider = "tvdb"
	ProviderTrakt Provider = "trakt"
	ProviderSlug  Provider = "slug"
)

// ProviderPriority is the order identifiers are probed in when matching,
// most authoritative first.
var ProviderPriority = []Provider{
	ProviderIMDB,
	ProviderTMDB,
	ProviderTVDB,
	ProviderTrakt,
	ProviderSlug,
}

// IDs maps providers to identifier values. Empty values are ignored.
type IDs map[Provider]string

// Keys returns "provider:value" keys in [ProviderPriority] order.
func (ids IDs) Keys() []string {
	keys := make([]string, 0, len(ids))
	for _, p := range ProviderPriority {
		if v := strings.TrimSpace(ids[p]); v != "" {
			keys = append(keys, string(p)+":"+v)
		}
	}
	return keys
}

// Empty reports whether no provider has a value.
func (ids IDs) Empty() bool {
	for _, p := range ProviderPriority {
		if strings.TrimSpace(ids[p]) != "" {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (ids IDs) Clone() IDs {
	if ids == nil {
		return IDs{}
	}
	return maps.Clone(ids)
}

// Merge returns a copy of ids with every non-empty value of other added.
// Values already present in ids win.
func (ids IDs) Merge(other IDs) IDs {
	out := ids.Clone()
	for p, v := range other {
		if v == "" {
			continue
		}
		if out[p] == "" {
			out[p] = v
		}
	}
	return out
}

var folder = cases.Fold()

// NormalizeTitle folds a title to the form used by the title/year fallback:
// transliterated to ASCII, case-folded, "&" read as "and", punctuation
// dropped, whitespace collapsed.
func NormalizeTitle(title string) string {
	s := unidecode.Unidecode(title)
	s = strings.ReplaceAll(s, "&", " and ")
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '.', r == ':', r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
