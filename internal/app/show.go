package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"rate-arb-watch/internal/storage"
)

// Show prints recent samples, or recent alerts when opts.Alerts is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeAlertsTable(os.Stdout, alerts)
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeSamplesTable(os.Stdout, samples)
}

func writeSamplesTable(out io.Writer, samples []storage.ArbitrageSample) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tComparison\tInstrument\tDirection\tAdjusted\tAPR%\tMaker\tTaker")

	for _, s := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			s.Timestamp.UTC().Format(time.RFC3339),
			sanitizeInline(s.Comparison),
			s.Instrument,
			s.Direction,
			s.FeeAdjusted,
			s.APR.StringFixed(3),
			s.MakerPrice.String(),
			s.TakerPrice.String(),
		)
	}

	return writer.Flush()
}

func writeAlertsTable(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tComparison\tDirection\tAPR%\tThreshold%\tChannels")
	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			sanitizeInline(al.Comparison),
			al.Direction,
			al.APR.StringFixed(3),
			al.Threshold.StringFixed(3),
			strings.Join(al.Channels, ","),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
