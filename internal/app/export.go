package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"rate-arb-watch/internal/blob"
	"rate-arb-watch/internal/storage"
)

// Export renders historical samples as CSV and/or PNG and optionally uploads
// the files to the configured bucket.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	samples = filterComparison(samples, opts.Comparison)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	var written []string
	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
		written = append(written, opts.CSVPath)
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
		written = append(written, opts.PNGPath)
	}

	if opts.Upload {
		return a.upload(ctx, written, to)
	}
	return nil
}

func (a *App) upload(ctx context.Context, paths []string, at time.Time) error {
	sc := a.Config.S3
	uploader, err := blob.New(ctx, blob.ClientConfig{
		Endpoint:       sc.Endpoint,
		Region:         sc.Region,
		Bucket:         sc.Bucket,
		AccessKey:      sc.AccessKey,
		SecretKey:      sc.SecretKey,
		UseSSL:         sc.UseSSL,
		ForcePathStyle: sc.ForcePathStyle,
		Prefix:         sc.Prefix,
	})
	if err != nil {
		return err
	}
	for _, path := range paths {
		location, err := uploader.UploadFile(ctx, path, at)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("file", path).Str("location", location).Msg("export uploaded")
	}
	return nil
}

func filterComparison(samples []storage.ArbitrageSample, comparison string) []storage.ArbitrageSample {
	if comparison == "" {
		return samples
	}
	out := samples[:0:0]
	for _, s := range samples {
		if s.Comparison == comparison {
			out = append(out, s)
		}
	}
	return out
}

func downsampleSamples(samples []storage.ArbitrageSample, max int) []storage.ArbitrageSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.ArbitrageSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.ArbitrageSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ts", "comparison", "maker", "taker", "instrument", "direction", "fee_adjusted", "apr_pct", "maker_price", "taker_price", "horizon_seconds"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range samples {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Comparison,
			s.MakerVenue + ":" + s.MakerSymbol,
			s.TakerVenue + ":" + s.TakerSymbol,
			s.Instrument,
			s.Direction,
			strconv.FormatBool(s.FeeAdjusted),
			s.APR.String(),
			s.MakerPrice.String(),
			s.TakerPrice.String(),
			strconv.FormatInt(int64(s.Horizon/time.Second), 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// seriesKey names one plotted line: a comparison, direction and cost flag.
func seriesKey(s storage.ArbitrageSample) string {
	name := s.Comparison + " " + s.Direction
	if s.FeeAdjusted {
		name += " (net)"
	}
	return name
}

func buildSeries(samples []storage.ArbitrageSample) []chart.Series {
	xs := make(map[string][]time.Time)
	ys := make(map[string][]float64)
	for _, s := range samples {
		key := seriesKey(s)
		xs[key] = append(xs[key], s.Timestamp)
		ys[key] = append(ys[key], s.APR.InexactFloat64())
	}

	names := make([]string, 0, len(xs))
	for name := range xs {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]chart.Series, 0, len(names))
	for _, name := range names {
		if len(xs[name]) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{Name: name, XValues: xs[name], YValues: ys[name]})
	}
	return series
}

func writeSamplesPNG(path string, samples []storage.ArbitrageSample) error {
	series := buildSeries(samples)
	if len(series) == 0 {
		return errors.New("not enough samples per series to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	aprFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "APR (%)",
			ValueFormatter: aprFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
