package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/forward"
)

var forwardCmd = &cobra.Command{
	Use:   "forward <sender> <recipient>...",
	Short: "Forward selected messages",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runForward,
}

func init() {
	registerOutgoingFlags(forwardCmd)
	forwardCmd.Flags().String("mode", string(forward.ModeInline), "Forward inline or with the original attached: inline, attachment")
	forwardCmd.Flags().String("subject-prefix", forward.DefaultPrefix, "Prefix added to the original subject")
	forwardCmd.Flags().Bool("no-attachments", false, "Do not re-attach the original attachments in inline mode")
	rootCmd.AddCommand(forwardCmd)
}

func runForward(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	ctx := cmd.Context()

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode := forward.Mode(strings.ToLower(modeFlag))
	switch mode {
	case forward.ModeInline, forward.ModeAttachment:
	default:
		return fmt.Errorf("invalid --mode: %s", modeFlag)
	}
	prefix, _ := cmd.Flags().GetString("subject-prefix")
	noAttachments, _ := cmd.Flags().GetBool("no-attachments")

	o, err := loadOutgoing(cmd, args, logger)
	if err != nil {
		return err
	}
	records, err := o.selectMessages(ctx, logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		logger.Info("no messages matched filters, nothing to forward")
		return nil
	}
	if err := o.expand(ctx, logger); err != nil {
		return err
	}
	if len(o.to)+len(o.cc)+len(o.bcc) == 0 {
		return errNoRecipients
	}
	d, err := newDispatcher(o.v, o.smtp, o.send, o.pw, logger)
	if err != nil {
		return err
	}

	logger.Info("forwarding messages", "count", len(records), "mode", mode)
	failed := 0
	for _, rec := range records {
		opts, err := forward.Build(rec, forward.Options{
			Sender:             o.sender,
			To:                 o.to,
			Cc:                 o.cc,
			Subject:            o.send.Subject,
			Prefix:             prefix,
			Body:               o.send.Body,
			BodyFile:           o.send.BodyFile,
			Images:             o.send.Images,
			Attachments:        o.send.Attachments,
			Template:           o.send.Template,
			TemplateParams:     o.send.TemplateParams,
			UseTemplateSubject: o.send.UseTemplateSubject,
			Mode:               mode,
			NoAttachments:      noAttachments,
		}, logger)
		if err == nil {
			err = deliver(ctx, d, opts, o.bcc, o.send, logger)
		}
		if err != nil {
			logger.Error("failed to forward", "subject", rec.Subject, "err", err)
			failed++
		}
	}

	logger.Info("forward operation completed", "messages", len(records), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d forwards failed", failed, len(records))
	}
	return nil
}
