package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	rankedColumns  = []string{"category_id", "rank_date", "product_id", "title", "price", "score", "rank", "rank_change", "created_at"}
	productColumns = []string{"id", "title", "price", "currency", "rank_signal", "review_count", "rating", "image_url", "category_id", "source", "updated_at"}
	runColumns     = []string{"id", "run_date", "trigger", "started_at", "finished_at", "total", "succeeded", "skipped", "failed", "cancelled", "purged", "alerted"}
)

const (
	upsertProductSuffix = `ON CONFLICT (id) DO UPDATE
    SET
        title        = EXCLUDED.title,
        price        = EXCLUDED.price,
        currency     = EXCLUDED.currency,
        rank_signal  = EXCLUDED.rank_signal,
        review_count = EXCLUDED.review_count,
        rating       = EXCLUDED.rating,
        image_url    = EXCLUDED.image_url,
        category_id  = COALESCE(EXCLUDED.category_id, products.category_id),
        source       = EXCLUDED.source,
        updated_at   = EXCLUDED.updated_at`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RankingStore persists one ranked list per category and day.
type RankingStore interface {
	SaveRanking(ctx context.Context, categoryID string, date time.Time, entries []domain.RankedEntry) error
	TopN(ctx context.Context, q TopNQuery) ([]domain.RankedEntry, error)
	History(ctx context.Context, productID string, since time.Time) ([]domain.RankedEntry, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProductStore persists canonical products for detail lookups.
type ProductStore interface {
	UpsertProducts(ctx context.Context, products []domain.CanonicalProduct) error
	GetProduct(ctx context.Context, id string) (domain.CanonicalProduct, error)
}

// RunStore records orchestrator run summaries.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of the storage interfaces.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveRanking replaces every entry stored for (categoryID, date) with entries.
func (s *Store) SaveRanking(ctx context.Context, categoryID string, date time.Time, entries []domain.RankedEntry) error {
	day := domain.Day(date)
	if err := ValidateRanking(categoryID, day, entries); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	del, delArgs, err := psql.Delete("ranked_entries").
		Where(sq.Eq{"category_id": categoryID, "rank_date": day}).
		ToSql()
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, del, delArgs...); err != nil {
			return fmt.Errorf("delete previous ranking: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		ins := psql.Insert("ranked_entries").Columns(rankedColumns...)
		for _, e := range entries {
			var change interface{}
			if e.RankChange != nil {
				change = *e.RankChange
			}
			created := e.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			ins = ins.Values(categoryID, day, e.ProductID, e.Title, e.Price.String(), e.Score.String(), e.Rank, change, created)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save ranking %s/%s: %w", domain.ErrPersistence, categoryID, day.Format("2006-01-02"), err)
	}
	return nil
}

// TopN lists entries for the requested day. A single category is ordered by rank;
// several categories are merged by score, ties by product id.
func (s *Store) TopN(ctx context.Context, q TopNQuery) ([]domain.RankedEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(q.CategoryIDs) == 0 {
		return []domain.RankedEntry{}, nil
	}

	builder := psql.Select(rankedColumns...).
		From("ranked_entries").
		Where(sq.Eq{"category_id": q.CategoryIDs, "rank_date": domain.Day(q.Date)})
	if len(q.CategoryIDs) == 1 {
		builder = builder.OrderBy("rank ASC")
	} else {
		builder = builder.OrderBy("score DESC", "product_id ASC", "category_id ASC")
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}

	return s.queryRanked(ctx, pool, builder, "top-n")
}

// History lists a product's entries dated on or after since, newest first.
func (s *Store) History(ctx context.Context, productID string, since time.Time) ([]domain.RankedEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	builder := psql.Select(rankedColumns...).
		From("ranked_entries").
		Where(sq.Eq{"product_id": productID}).
		Where(sq.GtOrEq{"rank_date": domain.Day(since)}).
		OrderBy("rank_date DESC", "category_id ASC")
	return s.queryRanked(ctx, pool, builder, "history")
}

// PurgeOlderThan deletes entries dated strictly before cutoff and returns the count removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	query, args, err := psql.Delete("ranked_entries").Where(sq.Lt{"rank_date": domain.Day(cutoff)}).ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: purge rankings: %w", domain.ErrPersistence, err)
	}
	return tag.RowsAffected(), nil
}

// UpsertProducts inserts or refreshes canonical products.
func (s *Store) UpsertProducts(ctx context.Context, products []domain.CanonicalProduct) error {
	if len(products) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	latest := make(map[string]domain.CanonicalProduct, len(products))
	order := make([]string, 0, len(products))
	for _, p := range products {
		if _, ok := latest[p.ID]; !ok {
			order = append(order, p.ID)
		}
		latest[p.ID] = p
	}

	ins := psql.Insert("products").Columns(productColumns...)
	for _, id := range order {
		p := latest[id]
		var category interface{}
		if p.CategoryID != "" {
			category = p.CategoryID
		}
		ins = ins.Values(p.ID, p.Title, p.Price.String(), p.Currency, p.RankSignal, p.ReviewCount, p.Rating.String(), p.ImageURL, category, p.Source, p.UpdatedAt)
	}
	query, args, err := ins.Suffix(upsertProductSuffix).ToSql()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert products: %w", domain.ErrPersistence, err)
	}
	return nil
}

// GetProduct loads one canonical product.
func (s *Store) GetProduct(ctx context.Context, id string) (domain.CanonicalProduct, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.CanonicalProduct{}, err
	}
	query, args, err := psql.Select(productColumns...).From("products").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.CanonicalProduct{}, err
	}

	var (
		p                 domain.CanonicalProduct
		priceStr, rateStr string
		category          sql.NullString
	)
	err = pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Title, &priceStr, &p.Currency, &p.RankSignal, &p.ReviewCount,
		&rateStr, &p.ImageURL, &category, &p.Source, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CanonicalProduct{}, ErrNotFound
	}
	if err != nil {
		return domain.CanonicalProduct{}, fmt.Errorf("get product: %w", err)
	}
	if p.Price, err = decimal.NewFromString(priceStr); err != nil {
		return domain.CanonicalProduct{}, fmt.Errorf("parse price: %w", err)
	}
	if p.Rating, err = decimal.NewFromString(rateStr); err != nil {
		return domain.CanonicalProduct{}, fmt.Errorf("parse rating: %w", err)
	}
	p.CategoryID = category.String
	p.Freshness = domain.Fresh
	return p, nil
}

// InsertRun persists a run summary.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("ranking_runs").Columns(runColumns...).
		Values(run.ID, domain.Day(run.RunDate), run.Trigger, run.StartedAt, run.FinishedAt,
			run.Total, run.Succeeded, run.Skipped, run.Failed, run.Cancelled, run.Purged, run.Alerted).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRecentRuns lists the most recent run summaries.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(runColumns...).From("ranking_runs").
		OrderBy("started_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.RunDate, &r.Trigger, &r.StartedAt, &r.FinishedAt,
			&r.Total, &r.Succeeded, &r.Skipped, &r.Failed, &r.Cancelled, &r.Purged, &r.Alerted); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func (s *Store) queryRanked(ctx context.Context, pool *pgxpool.Pool, builder sq.SelectBuilder, label string) ([]domain.RankedEntry, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", label, err)
	}
	defer rows.Close()

	entries := make([]domain.RankedEntry, 0)
	for rows.Next() {
		entry, scanErr := scanRankedEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func scanRankedEntry(rows pgx.Rows) (domain.RankedEntry, error) {
	var (
		e        domain.RankedEntry
		priceStr string
		scoreStr string
		change   sql.NullInt64
	)
	if err := rows.Scan(&e.CategoryID, &e.Date, &e.ProductID, &e.Title, &priceStr, &scoreStr, &e.Rank, &change, &e.CreatedAt); err != nil {
		return domain.RankedEntry{}, err
	}

	var err error
	if e.Price, err = decimal.NewFromString(priceStr); err != nil {
		return domain.RankedEntry{}, fmt.Errorf("parse price: %w", err)
	}
	if e.Score, err = decimal.NewFromString(scoreStr); err != nil {
		return domain.RankedEntry{}, fmt.Errorf("parse score: %w", err)
	}
	if change.Valid {
		v := int(change.Int64)
		e.RankChange = &v
	}
	e.Date = domain.Day(e.Date)
	return e, nil
}

// ValidateRanking checks that entries form a well-keyed, contiguous ranking of at most
// domain.MaxRankedEntries rows for (categoryID, day).
func ValidateRanking(categoryID string, day time.Time, entries []domain.RankedEntry) error {
	if categoryID == "" {
		return fmt.Errorf("%w: ranking requires a category", domain.ErrValidation)
	}
	if len(entries) > domain.MaxRankedEntries {
		return fmt.Errorf("%w: %d entries exceed limit of %d", domain.ErrValidation, len(entries), domain.MaxRankedEntries)
	}
	products := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.CategoryID != categoryID || !domain.Day(e.Date).Equal(day) {
			return fmt.Errorf("%w: entry %d belongs to %s/%s", domain.ErrValidation, i, e.CategoryID, e.Date.Format("2006-01-02"))
		}
		if e.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", domain.ErrValidation, i, e.Rank)
		}
		if _, dup := products[e.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product %s", domain.ErrValidation, e.ProductID)
		}
		products[e.ProductID] = struct{}{}
	}
	return nil
}

var (
	_ RankingStore   = (*Store)(nil)
	_ ProductStore   = (*Store)(nil)
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
