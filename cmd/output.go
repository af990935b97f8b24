package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
)

const recordSeparator = "----------------------------------------"

// printRecords writes the selected messages as text or as a JSON array of
// action results.
func printRecords(w io.Writer, records []model.MessageRecord, format string) error {
	if format == "json" {
		results := make([]model.ActionResult, 0, len(records))
		for _, rec := range records {
			results = append(results, rec.Result())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, rec := range records {
		fmt.Fprintf(w, "ID: %s\n", rec.ID)
		fmt.Fprintf(w, "Date: %s\n", rec.Date)
		fmt.Fprintf(w, "From: %s\n", rec.From)
		fmt.Fprintf(w, "To: %s\n", strings.Join(rec.To, ", "))
		if len(rec.Cc) > 0 {
			fmt.Fprintf(w, "Cc: %s\n", strings.Join(rec.Cc, ", "))
		}
		fmt.Fprintf(w, "Subject: %s\n", rec.Subject)
		for _, a := range rec.Actions {
			status := "ok"
			if !a.OK {
				status = "failed: " + a.Err
			}
			fmt.Fprintf(w, "Action %s: %s\n", a.Action, status)
		}
		if body := message.PlainText(rec.Body); body != "" {
			fmt.Fprintf(w, "\n%s\n", body)
		}
		fmt.Fprintln(w, recordSeparator)
	}
	return nil
}
