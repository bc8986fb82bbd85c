package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/service"
)

// Show prints a day's Top-N for a category or group.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.build(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	date := opts.Date
	if date.IsZero() {
		date = a.today()
	}
	res, err := rt.reader.TopN(ctx, opts.CategoryID, opts.GroupID, date, opts.Limit)
	if err != nil {
		return err
	}
	if res.NoData {
		fmt.Fprintf(a.Out, "no ranking for %s on %s\n", scopeLabel(opts.CategoryID, opts.GroupID), res.Date.Format(time.DateOnly))
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rank\tCategory\tProduct\tScore\tPrice\tChange\tTitle")
	for i, e := range res.Entries {
		rank := e.Rank
		if opts.CategoryID == "" {
			rank = i + 1
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rank,
			e.CategoryID,
			e.ProductID,
			formatDecimal(e.Score, 2),
			formatDecimal(e.Price, 2),
			formatChange(e.RankChange),
			truncate(sanitizeInline(e.Title), 60),
		)
	}
	return writer.Flush()
}

// History prints a product's ranking history, newest first.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	rt, err := a.build(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.reader.History(ctx, opts.ProductID, opts.Days)
	if err != nil {
		return err
	}
	if res.NoData {
		fmt.Fprintf(a.Out, "no history for %s in the last %d days\n", res.ProductID, res.Days)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tCategory\tRank\tChange\tScore\tPrice")
	for _, e := range res.Entries {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Date.Format(time.DateOnly),
			e.CategoryID,
			e.Rank,
			formatChange(e.RankChange),
			formatDecimal(e.Score, 2),
			formatDecimal(e.Price, 2),
		)
	}
	return writer.Flush()
}

// Product prints product details, or refreshes them in batches with Refresh set.
func (a *App) Product(ctx context.Context, opts ProductOptions) error {
	if len(opts.ItemIDs) == 0 {
		return fmt.Errorf("%w: at least one item id is required", domain.ErrValidation)
	}
	rt, err := a.build(ctx, false, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Refresh {
		results, err := rt.service.RefreshProducts(ctx, opts.ItemIDs)
		if err != nil {
			return err
		}
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Item\tPrice\tRating\tReviews\tStatus")
		for _, r := range results {
			status := "ok"
			if r.Err != nil {
				status = sanitizeInline(r.Err.Error())
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
				r.ItemID,
				formatDecimal(r.Product.Price, 2),
				formatDecimal(r.Product.Rating, 1),
				r.Product.ReviewCount,
				status,
			)
		}
		return writer.Flush()
	}

	for _, id := range opts.ItemIDs {
		view, err := rt.service.ProductDetail(ctx, id, opts.Reviews)
		if err != nil {
			return err
		}
		a.printProduct(view)
	}
	return nil
}

func (a *App) printProduct(view service.ProductView) {
	p := view.Product
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Item\t%s\n", p.ID)
	fmt.Fprintf(writer, "Title\t%s\n", sanitizeInline(p.Title))
	fmt.Fprintf(writer, "Price\t%s %s\n", formatDecimal(p.Price, 2), p.Currency)
	fmt.Fprintf(writer, "Rating\t%s (%d reviews)\n", formatDecimal(p.Rating, 1), p.ReviewCount)
	fmt.Fprintf(writer, "Category\t%s\n", p.CategoryID)
	fmt.Fprintf(writer, "Source\t%s, captured %s\n", view.Freshness, view.CapturedAt.UTC().Format(time.RFC3339))
	writer.Flush()

	if len(view.Reviews) == 0 {
		fmt.Fprintln(a.Out)
		return
	}
	fmt.Fprintf(a.Out, "\nreviews (%s)\n", view.ReviewsFreshness)
	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rating\tDate\tAuthor\tTitle")
	for _, r := range view.Reviews {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", r.Rating, r.Date, r.Author, truncate(sanitizeInline(r.Title), 60))
	}
	writer.Flush()
	fmt.Fprintln(a.Out)
}

// Categories lists the configured catalog.
func (a *App) Categories() error {
	cat, err := a.loadCatalog()
	if err != nil {
		return err
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Group\tCategory\tName\tKeyword")
	for _, c := range cat.Categories {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", c.GroupID, c.ID, c.Name, c.Keyword)
	}
	return writer.Flush()
}

// Runs prints the most recent run summaries.
func (a *App) Runs(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database not configured; cannot list runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tDate\tTrigger\tTotal\tOK\tSkipped\tFailed\tCancelled\tPurged\tAlerted")
	for _, r := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%t\n",
			r.StartedAt.UTC().Format(time.RFC3339),
			r.RunDate.Format(time.DateOnly),
			r.Trigger,
			r.Total,
			r.Succeeded,
			r.Skipped,
			r.Failed,
			r.Cancelled,
			r.Purged,
			r.Alerted,
		)
	}
	return writer.Flush()
}

func scopeLabel(categoryID, groupID string) string {
	switch {
	case categoryID != "" && groupID != "":
		return groupID + "/" + categoryID
	case categoryID != "":
		return categoryID
	default:
		return "group " + groupID
	}
}

func formatChange(change *int) string {
	if change == nil {
		return "new"
	}
	if *change > 0 {
		return fmt.Sprintf("+%d", *change)
	}
	return fmt.Sprintf("%d", *change)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncate(v string, max int) string {
	r := []rune(v)
	if len(r) <= max {
		return v
	}
	return string(r[:max-1]) + "…"
}
