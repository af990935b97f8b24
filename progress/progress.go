package progress

import (
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mailclient/stats"
)

// Bar shows fetch progress for one pass. The total is only known once the
// pass has enumerated, so the bar starts on the first Enumerated event.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
}

// New returns a Bar. A disabled Bar ignores every call.
func New(enabled bool) *Bar {
	return &Bar{enabled: enabled}
}

// Update advances the bar for stats events. It is meant to be passed as a
// selection observer.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case evt.Type == stats.EventTypeEnumerated:
		b.start(evt.Count)
	case evt.Stage == stats.StageFetch && (evt.Type == stats.EventTypeFetched || evt.Type == stats.EventTypeError):
		if b.pb == nil {
			return
		}
		b.done++
		b.pb.Increment()
		if evt.Detail != "" {
			b.pb.UpdateTitle("Fetched: " + truncate(evt.Detail, 40))
		}
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

func (b *Bar) start(total int) {
	if b.pb != nil || total <= 0 {
		return
	}
	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Fetching messages").
		Start()
	if err != nil {
		return
	}
	b.pb = pb
	b.total = total
	b.done = 0
}

// Stop finalizes the bar so the next pass can start a new one.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// PrintSummary renders a pass summary below the bar.
func PrintSummary(summary stats.Summary, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Enumerated: %d\n", summary.Enumerated)
	pterm.Info.Printf("Fetched: %d\n", summary.Fetched)
	pterm.Info.Printf("Filtered out: %d\n", summary.Filtered)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Selected: %d\n", summary.Selected)
	pterm.Info.Printf("Actions ok/failed: %d/%d\n", summary.ActionsOK, summary.ActionsFailed)
	if summary.Deleted > 0 {
		pterm.Info.Printf("Deleted: %d\n", summary.Deleted)
	}
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
