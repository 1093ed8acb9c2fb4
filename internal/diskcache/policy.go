package diskcache

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

var placeholderRe = regexp.MustCompile(`\\\{[a-zA-Z0-9_]+\\\}`)

// rule is one compiled policy entry. A nil ttl means never evict.
type rule struct {
	pattern string
	re      *regexp.Regexp
	ttl     *time.Duration
}

// Policy maps slash-delimited cache path patterns to a TTL. Patterns may
// contain placeholders like {providerId} or {tmdbId}, each matching one path
// segment fragment ([^/]+). Order of the source file is preserved: the first
// matching pattern wins.
type Policy struct {
	rules []rule
}

// LoadPolicy reads and compiles the cache policy file. Values are integer
// hours or null (never expire).
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy compiles a policy from raw JSON.
func ParsePolicy(data []byte) (*Policy, error) {
	// json.Unmarshal into a map loses key order; decode the raw object
	// token-by-token so "first match wins" follows the file.
	var raw map[string]*int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse cache policy: %w", err)
	}
	order, err := objectKeyOrder(data)
	if err != nil {
		return nil, err
	}

	p := &Policy{}
	for _, pattern := range order {
		hours, ok := raw[pattern]
		if !ok {
			continue
		}
		re, err := compilePattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("cache policy pattern %q: %w", pattern, err)
		}
		r := rule{pattern: pattern, re: re}
		if hours != nil {
			d := time.Duration(*hours) * time.Hour
			r.ttl = &d
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	expr := placeholderRe.ReplaceAllString(quoted, `[^/]+`)
	return regexp.Compile("^" + expr + "$")
}

// Resolve returns the TTL for a cache path relative to the cache root.
// evictable is false when no pattern matches or the matching TTL is null.
// Resolution order: exact pattern text, then first pattern matching the full
// path, then first pattern matching the path with the leaf filename stripped.
func (p *Policy) Resolve(relPath string) (ttl time.Duration, evictable bool) {
	relPath = strings.TrimPrefix(relPath, "/")
	for _, r := range p.rules {
		if r.pattern == relPath {
			return r.result()
		}
	}
	for _, r := range p.rules {
		if r.re.MatchString(relPath) {
			return r.result()
		}
	}
	if dir := parentPath(relPath); dir != "" {
		for _, r := range p.rules {
			if r.pattern == dir || r.re.MatchString(dir) {
				return r.result()
			}
		}
	}
	return 0, false
}

func (r rule) result() (time.Duration, bool) {
	if r.ttl == nil {
		return 0, false
	}
	return *r.ttl, true
}

func parentPath(relPath string) string {
	i := strings.LastIndex(relPath, "/")
	if i <= 0 {
		return ""
	}
	return relPath[:i]
}

// objectKeyOrder returns the top-level keys of a JSON object in file order.
func objectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse cache policy: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("cache policy must be a JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse cache policy: %w", err)
		}
		keys = append(keys, tok.(string))
		// Skip the value.
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("parse cache policy: %w", err)
		}
	}
	return keys, nil
}

// PolicyHolder hands the current policy to the sweeper while the watcher
// swaps in reloaded versions.
type PolicyHolder struct {
	mu     sync.RWMutex
	policy *Policy
}

func NewPolicyHolder(p *Policy) *PolicyHolder {
	return &PolicyHolder{policy: p}
}

func (h *PolicyHolder) Current() *Policy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

func (h *PolicyHolder) Swap(p *Policy) {
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
}
