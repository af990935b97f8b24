package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageEnumerate Stage = "enumerate"
	StageFetch     Stage = "fetch"
	StageFilter    Stage = "filter"
	StageAction    Stage = "action"
	StageCleanup   Stage = "cleanup"
)

type EventType string

const (
	EventTypeEnumerated   EventType = "enumerated"
	EventTypeFetched      EventType = "fetched"
	EventTypeFiltered     EventType = "filtered"
	EventTypeSelected     EventType = "selected"
	EventTypeDuplicate    EventType = "duplicate"
	EventTypeActionOK     EventType = "action_ok"
	EventTypeActionFailed EventType = "action_failed"
	EventTypeDeleted      EventType = "deleted"
	EventTypeError        EventType = "error"
)

// Event is one step of a pass. Count carries the number of refs for
// EventTypeEnumerated.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Count     int
	Err       error
	Detail    string
}

type Summary struct {
	Enumerated    int
	Fetched       int
	Filtered      int
	Selected      int
	Duplicates    int
	ActionsOK     int
	ActionsFailed int
	Deleted       int
	Errors        int
	LastError     error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"enumerated", s.Enumerated,
		"fetched", s.Fetched,
		"filtered", s.Filtered,
		"selected", s.Selected,
		"duplicates", s.Duplicates,
		"actionsOK", s.ActionsOK,
		"actionsFailed", s.ActionsFailed,
		"deleted", s.Deleted,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector accumulates the events of one pass.
type Collector struct {
	mu      sync.Mutex
	summary Summary
	started time.Time
}

func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reset clears the counters so the collector can be reused for the next pass.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.summary = Summary{}
	c.started = time.Now()
	c.mu.Unlock()
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeEnumerated:
		c.summary.Enumerated += evt.Count
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeSelected:
		c.summary.Selected++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeActionOK:
		c.summary.ActionsOK++
	case EventTypeActionFailed:
		c.summary.ActionsFailed++
	case EventTypeDeleted:
		c.summary.Deleted++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// Log writes the "stats summary" line for the pass.
func (c *Collector) Log(logger *slog.Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	summary, started := c.summary, c.started
	c.mu.Unlock()
	logger.Info("stats summary", append(summary.LogAttrs(), "duration", time.Since(started))...)
}

// Multi fans one event out to several observers.
func Multi(observers ...func(Event)) func(Event) {
	return func(evt Event) {
		for _, fn := range observers {
			if fn != nil {
				fn(evt)
			}
		}
	}
}

// Count tallies values. Empty values are ignored.
type Count map[string]int

func (c Count) Add(values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		c[v]++
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns the most frequent entries, highest first. Ties sort by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value == pairs[j].Value {
			return pairs[i].Key < pairs[j].Key
		}
		return pairs[i].Value > pairs[j].Value
	})

	if limit >= 0 && limit < len(pairs) {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
