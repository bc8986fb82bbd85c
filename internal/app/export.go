package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"breakout-radar/internal/domain"
)

// Export renders a product's ranking history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ProductID == "" {
		return errors.New("--product is required")
	}

	rt, err := a.build(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.reader.History(ctx, opts.ProductID, a.Config.ResolveDays(opts.Days))
	if err != nil {
		return err
	}
	if res.NoData {
		a.Logger.Info().Str("product", opts.ProductID).Int("days", res.Days).Msg("no history found for export window")
		return nil
	}

	// oldest first for both outputs
	entries := slices.Clone(res.Entries)
	slices.Reverse(entries)
	a.Logger.Info().Str("product", opts.ProductID).Int("exported", len(entries)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, entries); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(entries) < 2 {
			a.Logger.Warn().Int("points", len(entries)).Msg("chart needs at least two days of history, skipping png")
			return nil
		}
		if err := writeHistoryPNG(opts.PNGPath, opts.ProductID, entries); err != nil {
			return err
		}
	}

	return nil
}

func writeHistoryCSV(path string, entries []domain.RankedEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"rank_date", "category_id", "product_id", "rank", "rank_change", "score", "price", "title"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		change := ""
		if e.RankChange != nil {
			change = strconv.Itoa(*e.RankChange)
		}
		record := []string{
			e.Date.Format(time.DateOnly),
			e.CategoryID,
			e.ProductID,
			strconv.Itoa(e.Rank),
			change,
			e.Score.String(),
			e.Price.String(),
			e.Title,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path, productID string, entries []domain.RankedEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(entries))
	rank := make([]float64, len(entries))
	score := make([]float64, len(entries))

	for i, e := range entries {
		x[i] = e.Date
		rank[i] = float64(e.Rank)
		score[i] = e.Score.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  productID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Rank",
			Range: &chart.ContinuousRange{
				Min:        0,
				Max:        float64(domain.MaxRankedEntries) + 1,
				Descending: true,
			},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Score",
			Range: scoreRange(score),
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Rank",
				XValues: x,
				YValues: rank,
			},
			chart.TimeSeries{
				Name:    "Score",
				XValues: x,
				YValues: score,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// scoreRange pads a flat series; go-chart rejects a zero-height range.
func scoreRange(values []float64) chart.Range {
	lo, hi := slices.Min(values), slices.Max(values)
	if lo != hi {
		return nil
	}
	return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
