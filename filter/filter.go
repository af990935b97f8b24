package filter

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/mailclient/model"
)

// Mode selects how regex predicates combine.
type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

// Options captures the filtering configuration. Zero times and empty
// patterns are not configured.
type Options struct {
	Since        time.Time
	Before       time.Time
	SubjectRegex string
	BodyRegex    string
	FromRegex    string
	Mode         Mode
}

type predicate struct {
	name  string
	re    *regexp.Regexp
	field func(model.MessageRecord) string
}

// Filter holds compiled predicates for selecting messages.
type Filter struct {
	since      time.Time
	before     time.Time
	mode       Mode
	predicates []predicate

	mu   sync.Mutex
	hits map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	mode := opts.Mode
	switch mode {
	case "":
		mode = ModeAll
	case ModeAll, ModeAny:
	default:
		return nil, fmt.Errorf("invalid regex mode %q", opts.Mode)
	}

	f := &Filter{
		since:  opts.Since.UTC(),
		before: opts.Before.UTC(),
		mode:   mode,
		hits:   make(map[string]int),
	}
	if opts.Since.IsZero() {
		f.since = time.Time{}
	}
	if opts.Before.IsZero() {
		f.before = time.Time{}
	}

	fields := []struct {
		name    string
		pattern string
		field   func(model.MessageRecord) string
	}{
		{"subject", opts.SubjectRegex, func(r model.MessageRecord) string { return r.Subject }},
		{"body", opts.BodyRegex, model.MessageRecord.BodyText},
		{"from", opts.FromRegex, func(r model.MessageRecord) string { return r.From }},
	}
	for _, fd := range fields {
		re, err := compilePattern(fd.pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", fd.name, err)
		}
		if re == nil {
			continue
		}
		f.predicates = append(f.predicates, predicate{name: fd.name, re: re, field: fd.field})
	}

	return f, nil
}

// Allows reports whether the record passes both the date and regex stages.
func (f *Filter) Allows(rec model.MessageRecord) bool {
	return f.AllowsDate(rec) && f.AllowsRegex(rec)
}

// AllowsDate applies the date range. A Date header that does not parse is
// never excluded.
func (f *Filter) AllowsDate(rec model.MessageRecord) bool {
	if f.since.IsZero() && f.before.IsZero() {
		return true
	}
	sent, err := mail.ParseDate(strings.TrimSpace(rec.Date))
	if err != nil {
		return true
	}
	sent = sent.UTC()
	if !f.since.IsZero() && sent.Before(f.since) {
		return false
	}
	if !f.before.IsZero() && !sent.Before(f.before) {
		return false
	}
	return true
}

// AllowsRegex combines the configured regex predicates. With none
// configured every record passes.
func (f *Filter) AllowsRegex(rec model.MessageRecord) bool {
	if len(f.predicates) == 0 {
		return true
	}

	matchedAny := false
	for _, p := range f.predicates {
		if p.re.MatchString(p.field(rec)) {
			f.hit(p.name)
			matchedAny = true
			if f.mode == ModeAny {
				return true
			}
			continue
		}
		if f.mode == ModeAll {
			return false
		}
	}
	return matchedAny
}

// Empty reports whether no predicate of any kind is configured.
func (f *Filter) Empty() bool {
	return f.since.IsZero() && f.before.IsZero() && len(f.predicates) == 0
}

// Stats returns how often each regex predicate matched.
func (f *Filter) Stats() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.predicates))
	for _, p := range f.predicates {
		out[p.name+": "+strings.TrimPrefix(p.re.String(), "(?i)")] = f.hits[p.name]
	}
	return out
}

func (f *Filter) hit(name string) {
	f.mu.Lock()
	f.hits[name]++
	f.mu.Unlock()
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}
