package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"breakout-radar/internal/domain"
)

type rankingKey struct {
	category string
	day      time.Time
}

// MemoryStore keeps rankings, products and runs in process memory.
// It is used when no database DSN is configured and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	rankings map[rankingKey][]domain.RankedEntry
	products map[string]domain.CanonicalProduct
	runs     []RunRecord
	locks    map[int64]bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rankings: make(map[rankingKey][]domain.RankedEntry),
		products: make(map[string]domain.CanonicalProduct),
		locks:    make(map[int64]bool),
	}
}

func (m *MemoryStore) SaveRanking(_ context.Context, categoryID string, date time.Time, entries []domain.RankedEntry) error {
	day := domain.Day(date)
	if err := ValidateRanking(categoryID, day, entries); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := rankingKey{category: categoryID, day: day}
	if len(entries) == 0 {
		delete(m.rankings, key)
		return nil
	}
	stored := make([]domain.RankedEntry, len(entries))
	for i, e := range entries {
		e.Date = day
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		stored[i] = e
	}
	m.rankings[key] = stored
	return nil
}

func (m *MemoryStore) TopN(_ context.Context, q TopNQuery) ([]domain.RankedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day := domain.Day(q.Date)
	out := make([]domain.RankedEntry, 0)
	for _, id := range q.CategoryIDs {
		out = append(out, m.rankings[rankingKey{category: id, day: day}]...)
	}
	if len(q.CategoryIDs) > 1 {
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].Score.Equal(out[j].Score) {
				return out[i].Score.GreaterThan(out[j].Score)
			}
			if out[i].ProductID != out[j].ProductID {
				return out[i].ProductID < out[j].ProductID
			}
			return out[i].CategoryID < out[j].CategoryID
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) History(_ context.Context, productID string, since time.Time) ([]domain.RankedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from := domain.Day(since)
	out := make([]domain.RankedEntry, 0)
	for key, entries := range m.rankings {
		if key.day.Before(from) {
			continue
		}
		for _, e := range entries {
			if e.ProductID == productID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out, nil
}

func (m *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := domain.Day(cutoff)
	var removed int64
	for key, entries := range m.rankings {
		if key.day.Before(limit) {
			removed += int64(len(entries))
			delete(m.rankings, key)
		}
	}
	return removed, nil
}

func (m *MemoryStore) UpsertProducts(_ context.Context, products []domain.CanonicalProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		if p.CategoryID == "" {
			p.CategoryID = m.products[p.ID].CategoryID
		}
		m.products[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) GetProduct(_ context.Context, id string) (domain.CanonicalProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return domain.CanonicalProduct{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) InsertRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *MemoryStore) ListRecentRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunRecord, len(m.runs))
	copy(out, m.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TryAdvisoryLock emulates a non-blocking advisory lock within the process.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

// Len reports the number of ranked rows stored for (categoryID, date).
func (m *MemoryStore) Len(categoryID string, date time.Time) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rankings[rankingKey{category: categoryID, day: domain.Day(date)}])
}

var (
	_ RankingStore   = (*MemoryStore)(nil)
	_ ProductStore   = (*MemoryStore)(nil)
	_ RunStore       = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
)
