package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/reply"
)

var replyCmd = &cobra.Command{
	Use:   "reply <sender> [recipient]...",
	Short: "Reply to selected messages",
	Long: "Reply to every selected message. Without recipients the reply goes to the " +
		"original sender.",
	Args: cobra.MinimumNArgs(1),
	RunE: runReply,
}

func init() {
	registerOutgoingFlags(replyCmd)
	replyCmd.Flags().Bool("no-quote-original", false, "Do not quote the original message")
	replyCmd.Flags().Bool("reply-all", false, "Also reply to the original To and Cc recipients")
	rootCmd.AddCommand(replyCmd)
}

func runReply(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	ctx := cmd.Context()

	o, err := loadOutgoing(cmd, args, logger)
	if err != nil {
		return err
	}
	records, err := o.selectMessages(ctx, logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		logger.Info("no messages matched filters, nothing to reply to")
		return nil
	}
	if err := o.expand(ctx, logger); err != nil {
		return err
	}
	d, err := newDispatcher(o.v, o.smtp, o.send, o.pw, logger)
	if err != nil {
		return err
	}

	noQuote, _ := cmd.Flags().GetBool("no-quote-original")
	replyAll, _ := cmd.Flags().GetBool("reply-all")

	logger.Info("replying to messages", "count", len(records))
	failed := 0
	for _, rec := range records {
		opts, err := reply.Build(rec, reply.Options{
			Sender:             o.sender,
			To:                 o.to,
			Cc:                 o.cc,
			Subject:            o.send.Subject,
			Body:               o.send.Body,
			BodyFile:           o.send.BodyFile,
			Images:             o.send.Images,
			Attachments:        o.send.Attachments,
			Template:           o.send.Template,
			TemplateParams:     o.send.TemplateParams,
			UseTemplateSubject: o.send.UseTemplateSubject,
			NoQuoteOriginal:    noQuote,
			ReplyAll:           replyAll,
		}, logger)
		if err == nil {
			err = deliver(ctx, d, opts, o.bcc, o.send, logger)
		}
		if err != nil {
			logger.Error("failed to reply", "subject", rec.Subject, "err", err)
			failed++
		}
	}

	logger.Info("reply operation completed", "messages", len(records), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d replies failed", failed, len(records))
	}
	return nil
}
