// Package dialplan decides whether a collected dial string reaches an
// extension. Patterns follow the usual PBX convention: a leading "_"
// marks a pattern, X matches 0-9, Z matches 1-9, N matches 2-9, [15-7]
// matches a character class, "." matches one or more trailing characters
// and "!" matches zero or more. Anything without a leading underscore is
// a literal extension.
package dialplan

import (
	"sort"
	"strings"
	"sync"
)

// Match is the outcome of testing a dial string against one context.
type Match struct {
	// Exact is true when the string fully matches at least one extension.
	Exact bool

	// Partial is true when more digits could still produce a match. The
	// collector uses it to keep the inter-digit timer running after an
	// exact match (overlapping plans like "1001" and "1001X").
	Partial bool
}

// Plan resolves dial strings within named contexts.
type Plan interface {
	// Lookup tests number against the context's extensions.
	Lookup(context, number string) Match

	// Contexts lists the known context names.
	Contexts() []string
}

// StaticPlan is an in-memory Plan built from configuration.
type StaticPlan struct {
	mu   sync.RWMutex
	exts map[string][]string // context -> patterns and literals
}

// NewStaticPlan returns an empty plan.
func NewStaticPlan() *StaticPlan {
	return &StaticPlan{exts: make(map[string][]string)}
}

// Add registers an extension or pattern in a context.
func (p *StaticPlan) Add(context, ext string) {
	if context == "" || ext == "" {
		return
	}
	p.mu.Lock()
	p.exts[context] = append(p.exts[context], ext)
	p.mu.Unlock()
}

// Clear drops every context. Reload rebuilds the plan through Add.
func (p *StaticPlan) Clear() {
	p.mu.Lock()
	p.exts = make(map[string][]string)
	p.mu.Unlock()
}

// Lookup implements Plan.
func (p *StaticPlan) Lookup(context, number string) Match {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var m Match
	for _, ext := range p.exts[context] {
		r := matchOne(ext, number)
		m.Exact = m.Exact || r.Exact
		m.Partial = m.Partial || r.Partial
	}
	return m
}

// Contexts implements Plan.
func (p *StaticPlan) Contexts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.exts))
	for c := range p.exts {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// matchOne tests number against a single extension entry.
func matchOne(ext, number string) Match {
	if !strings.HasPrefix(ext, "_") {
		// Literal extension.
		if ext == number {
			return Match{Exact: true}
		}
		if len(number) < len(ext) && strings.HasPrefix(ext, number) {
			return Match{Partial: true}
		}
		return Match{}
	}
	return matchPattern(ext[1:], number)
}

func matchPattern(pat, number string) Match {
	i := 0 // position in pat
	for n := 0; n < len(number); n++ {
		if i >= len(pat) {
			return Match{}
		}
		switch pat[i] {
		case '.':
			// One or more of anything: consumes the rest.
			return Match{Exact: true, Partial: true}
		case '!':
			// Zero or more of anything.
			return Match{Exact: true, Partial: true}
		default:
			ok, width := matchDigit(pat[i:], number[n])
			if !ok {
				return Match{}
			}
			i += width
		}
	}

	if i >= len(pat) {
		return Match{Exact: true}
	}
	// Pattern has unconsumed elements: "!" alone still matches exactly,
	// anything else means more digits could complete it.
	if pat[i] == '!' {
		return Match{Exact: true, Partial: true}
	}
	return Match{Partial: true}
}

// matchDigit tests one dial character against the pattern element at the
// front of pat, returning the element's width in the pattern.
func matchDigit(pat string, c byte) (ok bool, width int) {
	switch p := pat[0]; {
	case p == 'X' || p == 'x':
		return c >= '0' && c <= '9', 1
	case p == 'Z' || p == 'z':
		return c >= '1' && c <= '9', 1
	case p == 'N' || p == 'n':
		return c >= '2' && c <= '9', 1
	case p == '[':
		end := strings.IndexByte(pat, ']')
		if end < 0 {
			return false, len(pat)
		}
		return classMatches(pat[1:end], c), end + 1
	default:
		return p == c, 1
	}
}

// classMatches tests c against a character class body like "25-79".
func classMatches(class string, c byte) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if c >= class[i] && c <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == c {
			return true
		}
	}
	return false
}
