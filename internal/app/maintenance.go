package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type migrator interface {
	Migrate(ctx context.Context) ([]string, error)
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法迁移")
	}
	if closeStore != nil {
		defer closeStore()
	}

	m, ok := store.(migrator)
	if !ok {
		fmt.Fprintln(a.Out, "store has no schema to migrate")
		return nil
	}
	applied, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "schema up to date")
		return nil
	}
	for _, v := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", v)
	}
	return nil
}

// Purge deletes ranked entries older than the retention window. days <= 0 uses
// the configured retention.
func (a *App) Purge(ctx context.Context, days int) error {
	if days <= 0 {
		days = a.Config.Pipeline.RetentionDays
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法清理")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := a.today().AddDate(0, 0, -days)
	removed, err := store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	a.Logger.Info().Time("cutoff", cutoff).Int64("removed", removed).Msg("purged ranked entries")
	fmt.Fprintf(a.Out, "removed %d entries dated before %s\n", removed, cutoff.Format(time.DateOnly))
	return nil
}
