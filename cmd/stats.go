package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/filter"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/progress"
	"github.com/dhcgn/mailclient/selection"
	"github.com/dhcgn/mailclient/stats"
)

var headersToTrack = []string{"From", "To", "Cc", "Subject"}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Analyse a mail store and show statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	config.RegisterMailFlags(statsCmd)
	config.RegisterSelectionFlags(statsCmd)
	statsCmd.Flags().StringP("output", "o", "", "Output directory for CSV reports, none when empty")
	statsCmd.Flags().Int("top", 10, "Number of top items to display in statistics")
	statsCmd.Flags().Int("report-limit", 1000, "Number of rows per CSV report")
	statsCmd.Flags().Bool("progress", false, "Show a progress bar while fetching")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
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
	f, err := filter.New(sel.Filter)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	reportDir := v.GetString("output")
	topN := v.GetInt("top")
	collector := stats.NewCollector()
	bar := progress.New(v.GetBool("progress"))

	res, err := selection.Run(cmd.Context(), mail.Options(), selection.Options{
		Query:   sel.Query,
		Filter:  f,
		Observe: stats.Multi(collector.Apply, bar.Update),
	}, logger)
	bar.Stop()
	collector.Log(logger)
	if err != nil {
		return err
	}

	counter := countHeaders(res.Records)
	printStats(cmd.OutOrStdout(), collector.Snapshot(), f.Stats(), counter, topN)

	if reportDir == "" {
		return nil
	}
	if err := saveCSVReports(counter, headersToTrack, reportDir, v.GetInt("report-limit")); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nReports saved to directory: %s\n", reportDir)
	return nil
}

// countHeaders tallies the tracked headers. Every To and Cc address counts
// on its own.
func countHeaders(records []model.MessageRecord) map[string]stats.Count {
	counter := make(map[string]stats.Count, len(headersToTrack))
	for _, h := range headersToTrack {
		counter[h] = stats.Count{}
	}
	for _, rec := range records {
		counter["From"].Add(rec.From)
		counter["To"].Add(rec.To...)
		counter["Cc"].Add(rec.Cc...)
		counter["Subject"].Add(rec.Subject)
	}
	return counter
}

func printStats(w io.Writer, summary stats.Summary, filterHits map[string]int, counter map[string]stats.Count, topN int) {
	var filterPercent float64
	if summary.Fetched > 0 {
		filterPercent = float64(summary.Filtered) / float64(summary.Fetched) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%)...\n\n", summary.Selected, summary.Filtered, filterPercent)

	if len(filterHits) > 0 {
		fmt.Fprintln(w, "Filters:")
		printFilterHits(w, filterHits)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, header := range headersToTrack {
		fmt.Fprintf(w, "Top %d %s:\n", topN, header)
		stats.PrettyPrintTop(w, counter[header], topN)
		fmt.Fprintln(w)
	}
}

func saveCSVReports(counter map[string]stats.Count, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSVReport(filePath, counter[header], limit); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, counts stats.Count, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range stats.Top(counts, limit) {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(w io.Writer, hits map[string]int) {
	patterns := make([]string, 0, len(hits))
	for p := range hits {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if hits[patterns[i]] != hits[patterns[j]] {
			return hits[patterns[i]] > hits[patterns[j]]
		}
		return patterns[i] < patterns[j]
	})

	for _, p := range patterns {
		if hits[p] > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", p, hits[p])
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", p)
		}
	}
}
