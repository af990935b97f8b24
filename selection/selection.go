// Package selection connects to a mail store, enumerates and fetches
// messages, filters them, and runs the action pipeline on each selected
// record.
package selection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mailclient/action"
	"github.com/dhcgn/mailclient/filter"
	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/state"
	"github.com/dhcgn/mailclient/stats"
)

type Options struct {
	Query mailbox.Query
	// Filter may be nil, in which case every fetched message is selected.
	Filter *filter.Filter
	// Actions may be nil.
	Actions *action.Pipeline
	// Tracker skips messages already handled earlier in this process.
	Tracker state.Tracker
	// Delete removes each selected message from the store once its actions
	// ran. Only sources implementing mailbox.Deleter support it.
	Delete  bool
	Observe func(stats.Event)
}

// Skipped is a message that could not be turned into a record.
type Skipped struct {
	Ref model.MessageRef
	Err error
}

type Result struct {
	Records []model.MessageRecord
	Skipped []Skipped
}

// Run opens the store described by mopts, selects from it and closes it.
// A failure to connect wraps mailbox.ErrConnect.
func Run(ctx context.Context, mopts mailbox.Options, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	src, err := mailbox.Open(ctx, mopts, logger)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("mail session cleanup failed", "protocol", src.Protocol(), "err", err)
			emit(opts.Observe, stats.Event{Stage: stats.StageCleanup, Type: stats.EventTypeError, Err: err})
		}
	}()

	return Select(ctx, src, opts, logger)
}

// Select runs one pass over an open source. Messages are handled strictly
// in enumeration order; a message's actions finish before the next message
// is fetched. Fetch and parse failures skip the message, enumeration
// failures abort the pass.
func Select(ctx context.Context, src mailbox.Source, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observe := opts.Observe

	refs, err := src.Enumerate(ctx, opts.Query)
	if err != nil {
		emit(observe, stats.Event{Stage: stats.StageEnumerate, Type: stats.EventTypeError, Err: err})
		return Result{}, fmt.Errorf("enumerate %s: %w", src.Protocol(), err)
	}
	emit(observe, stats.Event{Stage: stats.StageEnumerate, Type: stats.EventTypeEnumerated, Count: len(refs)})

	var result Result
	if len(refs) == 0 {
		logger.Info("no messages found", "protocol", src.Protocol())
		return result, nil
	}

	serverDates := src.Capabilities().ServerDateFilter
	deleter, canDelete := src.(mailbox.Deleter)
	if opts.Delete && !canDelete {
		logger.Warn("delete requested but not supported", "protocol", src.Protocol())
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw, err := src.Fetch(ctx, ref)
		if err != nil {
			logger.Warn("failed to fetch message, skipping", "id", ref.ID, "err", err)
			result.Skipped = append(result.Skipped, Skipped{Ref: ref, Err: err})
			emit(observe, stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, MessageID: ref.ID, Err: err})
			continue
		}

		rec, err := message.Parse(ref.ID, raw)
		if err != nil {
			logger.Warn("failed to parse message, skipping", "id", ref.ID, "err", err)
			result.Skipped = append(result.Skipped, Skipped{Ref: ref, Err: err})
			emit(observe, stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, MessageID: ref.ID, Err: err})
			continue
		}
		emit(observe, stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFetched, MessageID: ref.ID, Detail: rec.Subject})

		if !allows(opts.Filter, rec, serverDates) {
			logger.Debug("message filtered out", "id", ref.ID, "subject", rec.Subject)
			emit(observe, stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeFiltered, MessageID: ref.ID})
			continue
		}

		hash := state.Hash(raw)
		if opts.Tracker != nil && opts.Tracker.AlreadyProcessed(hash) {
			logger.Debug("message already processed", "id", ref.ID)
			emit(observe, stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeDuplicate, MessageID: ref.ID})
			continue
		}

		logger.Info("message selected", "id", rec.ID, "from", rec.From, "subject", rec.Subject, "date", rec.Date)

		if opts.Actions != nil && !opts.Actions.Empty() {
			rec.Actions = opts.Actions.Perform(ctx, rec)
			for _, outcome := range rec.Actions {
				typ := stats.EventTypeActionOK
				if !outcome.OK {
					typ = stats.EventTypeActionFailed
				}
				emit(observe, stats.Event{Stage: stats.StageAction, Type: typ, MessageID: ref.ID, Detail: string(outcome.Action)})
			}
		}

		if opts.Tracker != nil {
			if err := opts.Tracker.MarkProcessed(hash, rec.ID); err != nil {
				logger.Warn("failed to record processed message", "id", rec.ID, "err", err)
			}
		}

		if opts.Delete && canDelete {
			if err := deleter.Delete(ctx, ref); err != nil {
				logger.Error("failed to delete message", "id", ref.ID, "err", err)
				emit(observe, stats.Event{Stage: stats.StageAction, Type: stats.EventTypeError, MessageID: ref.ID, Err: err})
			} else {
				logger.Info("message marked for deletion", "id", ref.ID)
				emit(observe, stats.Event{Stage: stats.StageAction, Type: stats.EventTypeDeleted, MessageID: ref.ID})
			}
		}

		result.Records = append(result.Records, rec)
		emit(observe, stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeSelected, MessageID: ref.ID})
	}

	logger.Info("selection complete", "protocol", src.Protocol(), "candidates", len(refs), "selected", len(result.Records), "skipped", len(result.Skipped))
	return result, nil
}

// allows applies f. Sources that already filtered by date on the server
// only get the regex stage.
func allows(f *filter.Filter, rec model.MessageRecord, serverDates bool) bool {
	if f == nil {
		return true
	}
	if serverDates {
		return f.AllowsRegex(rec)
	}
	return f.Allows(rec)
}

func emit(observe func(stats.Event), evt stats.Event) {
	if observe != nil {
		observe(evt)
	}
}
