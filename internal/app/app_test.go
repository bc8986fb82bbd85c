package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/config"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/service"
	"breakout-radar/internal/storage"
)

const testCategory = "wireless-earbuds"

func newTestApp(t *testing.T) (*App, *storage.MemoryStore, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Database.DSN = ""
	cfg.Redis.Addr = ""
	cfg.Scheduler.Timezone = "UTC"

	store := storage.NewMemoryStore()
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop()).WithStore(store)
	a.Out = out
	return a, store, out
}

func saveDay(t *testing.T, store *storage.MemoryStore, day time.Time, products ...string) {
	t.Helper()
	entries := make([]domain.RankedEntry, len(products))
	for i, p := range products {
		entries[i] = domain.RankedEntry{
			CategoryID: testCategory,
			Date:       day,
			ProductID:  p,
			Title:      "Item " + p,
			Price:      decimal.RequireFromString("19.99"),
			Score:      decimal.NewFromInt(int64(80 - i)),
			Rank:       i + 1,
		}
	}
	if err := store.SaveRanking(context.Background(), testCategory, day, entries); err != nil {
		t.Fatal(err)
	}
}

func TestShowPrintsRanking(t *testing.T) {
	a, store, out := newTestApp(t)
	saveDay(t, store, a.today(), "B0SHOW0001", "B0SHOW0002")

	if err := a.Show(context.Background(), ShowOptions{CategoryID: testCategory, Limit: 20}); err != nil {
		t.Fatalf("show: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "B0SHOW0001") || !strings.Contains(text, "B0SHOW0002") {
		t.Fatalf("ranking missing from output:\n%s", text)
	}
	if strings.Index(text, "B0SHOW0001") > strings.Index(text, "B0SHOW0002") {
		t.Fatalf("entries should be printed in rank order:\n%s", text)
	}
	if !strings.Contains(text, "new") {
		t.Fatalf("entries without a previous rank should be marked new:\n%s", text)
	}
}

func TestShowNoData(t *testing.T) {
	a, _, out := newTestApp(t)
	if err := a.Show(context.Background(), ShowOptions{CategoryID: testCategory, Limit: 20}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), "no ranking for "+testCategory) {
		t.Fatalf("expected no-data message, got %q", out.String())
	}
}

func TestTriggerRejectsReversedRange(t *testing.T) {
	a, _, _ := newTestApp(t)
	err := a.Trigger(context.Background(), TriggerOptions{
		From: time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 10, 7, 0, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatalf("expected error for reversed range")
	}

	err = a.Trigger(context.Background(), TriggerOptions{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected range limit error, got %v", err)
	}
}

func TestExportWritesCSVAndPNG(t *testing.T) {
	a, store, _ := newTestApp(t)
	today := a.today()
	for i := 0; i < 3; i++ {
		saveDay(t, store, today.AddDate(0, 0, -i), "B0EXPORT01", "B0EXPORT02")
	}

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "history.csv")
	pngPath := filepath.Join(dir, "out", "history.png")
	err := a.Export(context.Background(), ExportOptions{ProductID: "B0EXPORT02", Days: 7, CSVPath: csvPath, PNGPath: pngPath})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[1][0] != today.AddDate(0, 0, -2).Format(time.DateOnly) || rows[1][3] != "2" {
		t.Fatalf("csv should start with the oldest day, got %v", rows[1])
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected png output, err=%v", err)
	}

	if err := a.Export(context.Background(), ExportOptions{ProductID: "B0EXPORT02"}); err == nil {
		t.Fatalf("expected error without output paths")
	}
}

func TestSimulateAlert(t *testing.T) {
	a, _, out := newTestApp(t)
	if _, err := a.SimulateAlert(context.Background(), SimulateOptions{Failing: -1}); err == nil {
		t.Fatalf("simulate must refuse while alerting is disabled")
	}

	a.Config.Alerting.Enabled = true
	report, err := a.SimulateAlert(context.Background(), SimulateOptions{Failing: -1})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if report.Failed() != len(report.Results) || !report.Alerted {
		t.Fatalf("expected every category failed and an alert, got failed=%d alerted=%v", report.Failed(), report.Alerted)
	}
	if report.Trigger != service.TriggerSimulated {
		t.Fatalf("unexpected trigger %q", report.Trigger)
	}
	if !strings.Contains(out.String(), testCategory) {
		t.Fatalf("report should list categories:\n%s", out.String())
	}

	healthy, err := a.SimulateAlert(context.Background(), SimulateOptions{Failing: 0})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if healthy.Alerted || healthy.Count(service.OutcomeSuccess) != len(healthy.Results) {
		t.Fatalf("healthy run should succeed without alert, got %+v", healthy.Record())
	}
}

func TestRunsPurgeAndMigrate(t *testing.T) {
	a, store, out := newTestApp(t)
	ctx := context.Background()
	today := a.today()

	if err := store.InsertRun(ctx, storage.RunRecord{
		ID: uuid.New(), RunDate: today, Trigger: service.TriggerManual,
		StartedAt: time.Now(), FinishedAt: time.Now(), Total: 3, Succeeded: 2, Failed: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.Runs(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), service.TriggerManual) {
		t.Fatalf("runs output missing trigger:\n%s", out.String())
	}

	saveDay(t, store, today.AddDate(0, 0, -10), "B0PURGE001")
	saveDay(t, store, today, "B0PURGE001")
	out.Reset()
	if err := a.Purge(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if store.Len(testCategory, today.AddDate(0, 0, -10)) != 0 || store.Len(testCategory, today) != 1 {
		t.Fatalf("purge should drop only rows outside retention")
	}
	if !strings.Contains(out.String(), "removed 1 entries") {
		t.Fatalf("unexpected purge output %q", out.String())
	}

	out.Reset()
	if err := a.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no schema") {
		t.Fatalf("memory store has nothing to migrate, got %q", out.String())
	}
}

func TestReadCommandsRequireDatabase(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.store = nil
	if err := a.Show(context.Background(), ShowOptions{CategoryID: testCategory, Limit: 20}); err == nil {
		t.Fatalf("show without database should fail")
	}
	if err := a.Runs(context.Background(), 5); err == nil {
		t.Fatalf("runs without database should fail")
	}
}
