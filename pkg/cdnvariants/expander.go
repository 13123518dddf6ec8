// Package cdnvariants expands a canonical media URL into ordered
// alternate-rendition candidates. Supporting a new delivery platform means
// registering another table entry, never adding branching logic.
package cdnvariants

import (
	"fmt"
	"regexp"
)

// Rule pairs a match pattern with the substitution templates that produce
// alternate renditions. Each substitution rewrites only the rendition segment
// of the URL; every other component, including auth query parameters, is
// preserved byte-for-byte because the pattern never spans them.
type Rule struct {
	pattern       *regexp.Regexp
	substitutions []string
}

// Expander holds the registered rule table, checked in registration order.
type Expander struct {
	rules []Rule
}

// New returns an empty expander.
func New() *Expander {
	return &Expander{}
}

// Register appends a rule to the table. The pattern is a regular expression
// matched against the full URL; each substitution is a replacement template
// (supports ${n} group references) producing one additional candidate.
func (e *Expander) Register(pattern string, substitutions ...string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("cdnvariants: invalid pattern %q: %w", pattern, err)
	}
	if len(substitutions) == 0 {
		return fmt.Errorf("cdnvariants: pattern %q registered without substitutions", pattern)
	}
	e.rules = append(e.rules, Rule{pattern: re, substitutions: substitutions})
	return nil
}

// MustRegister is Register for static tables known to be valid.
func (e *Expander) MustRegister(pattern string, substitutions ...string) {
	if err := e.Register(pattern, substitutions...); err != nil {
		panic(err)
	}
}

// Expand returns the ordered candidate list for a canonical URL. The input is
// always the first element. The first matching rule contributes additional
// candidates in substitution order; URLs matching no rule yield a
// single-element result.
func (e *Expander) Expand(canonicalURL string) []string {
	out := []string{canonicalURL}
	for _, rule := range e.rules {
		if !rule.pattern.MatchString(canonicalURL) {
			continue
		}
		for _, sub := range rule.substitutions {
			candidate := rule.pattern.ReplaceAllString(canonicalURL, sub)
			if candidate == canonicalURL {
				continue
			}
			if !contains(out, candidate) {
				out = append(out, candidate)
			}
		}
		break
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Default returns the expander preloaded with the known delivery variants:
// size-named progressive renditions fall back to the direct download name,
// and HLS playlists fall back to their progressive counterpart.
func Default() *Expander {
	e := New()
	e.MustRegister(`(/)(?:medium|large|preview|stream)(\.mp4)`, `${1}download${2}`, `${1}original${2}`)
	e.MustRegister(`(/)playlist\.m3u8`, `${1}download.mp4`)
	e.MustRegister(`(/)(?:thumb|thumbnail)(\.jpe?g|\.png|\.webp)`, `${1}original${2}`)
	return e
}
