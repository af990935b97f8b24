package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dhcgn/mailclient/model"
)

// DialFunc opens a Source for the given options.
type DialFunc func(ctx context.Context, opts Options, logger *slog.Logger) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[model.Protocol]DialFunc)
)

// Register makes a protocol available to Open. It panics on an empty name,
// a nil dial function, or a duplicate registration.
func Register(protocol model.Protocol, dial DialFunc) {
	if protocol == "" {
		panic("mailbox: Register called with empty protocol")
	}
	if dial == nil {
		panic("mailbox: Register called with nil dial func")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[protocol]; exists {
		panic("mailbox: Register called twice for " + string(protocol))
	}
	registry[protocol] = dial
}

// Open connects to the store named by opts.Protocol. Connection failures
// wrap ErrConnect.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Source, error) {
	registryMu.RLock()
	dial, ok := registry[opts.Protocol]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, opts.Protocol)
	}

	src, err := dial(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return src, nil
}

// Protocols returns the registered protocol names, sorted.
func Protocols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for p := range registry {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
