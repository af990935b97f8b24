package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/action"
	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/credential"
	"github.com/dhcgn/mailclient/filter"
	"github.com/dhcgn/mailclient/mbox"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/progress"
	"github.com/dhcgn/mailclient/runner"
	"github.com/dhcgn/mailclient/selection"
	"github.com/dhcgn/mailclient/state"
	"github.com/dhcgn/mailclient/stats"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Select messages from a mail store and run actions on them",
	Args:  cobra.NoArgs,
	RunE:  runRead,
}

func init() {
	config.RegisterMailFlags(readCmd)
	config.RegisterSelectionFlags(readCmd)
	config.RegisterActionFlags(readCmd)
	config.RegisterRunFlags(readCmd)
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	v, err := config.Bind(cmd)
	if err != nil {
		return err
	}
	mail, err := config.LoadMail(v)
	if err != nil {
		return err
	}
	if mail.Password, err = resolveMailPassword(passwords(logger), mail); err != nil {
		return err
	}
	sel, err := config.LoadSelection(v)
	if err != nil {
		return err
	}
	run, err := config.LoadRun(v)
	if err != nil {
		return err
	}

	f, err := filter.New(sel.Filter)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}
	pipeline, err := action.New(config.LoadActions(v), logger)
	if err != nil {
		return err
	}

	if run.Delete && mail.Protocol != model.ProtocolPOP3 {
		logger.Warn("--pop3-delete only applies to pop3, ignoring", "protocol", mail.Protocol)
		run.Delete = false
	}

	var tracker state.Tracker
	if run.Forever {
		tracker = state.NewMemoryTracker()
	}
	collector := stats.NewCollector()
	bar := progress.New(run.Progress)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("reading messages", "protocol", mail.Protocol, "host", mail.Host, "path", mail.Path, "forever", run.Forever)

	r := runner.New(runner.Options{Forever: run.Forever, Interval: run.Interval}, logger)
	return r.Run(ctx, func(ctx context.Context) error {
		collector.Reset()
		started := time.Now()

		res, err := selection.Run(ctx, mail.Options(), selection.Options{
			Query:   sel.Query,
			Filter:  f,
			Actions: pipeline,
			Tracker: tracker,
			Delete:  run.Delete,
			Observe: stats.Multi(collector.Apply, bar.Update),
		}, logger)
		bar.Stop()
		collector.Log(logger)
		if err != nil {
			return err
		}

		if err := printRecords(cmd.OutOrStdout(), res.Records, run.Format); err != nil {
			return fmt.Errorf("print messages: %w", err)
		}
		if run.ExportMbox != "" && len(res.Records) > 0 {
			if err := mbox.Export(run.ExportMbox, res.Records); err != nil {
				return err
			}
			logger.Info("messages exported", "path", run.ExportMbox, "count", len(res.Records))
		}
		if run.Progress {
			progress.PrintSummary(collector.Snapshot(), time.Since(started))
		}
		return nil
	})
}

// resolveMailPassword fills in the source store password. Local stores and
// anonymous sessions do not need one.
func resolveMailPassword(p config.Passwords, mail config.Mail) (string, error) {
	if !mail.Remote() || mail.Username == "" {
		return mail.Password, nil
	}
	key := credential.Key(string(mail.Protocol), mail.Username, mail.Host)
	return p.Resolve(mail.Password, key, fmt.Sprintf("%s password for %s@%s", mail.Protocol, mail.Username, mail.Host))
}
