// Package memory implements the domain stores in process memory. It backs
// deployments without PostgreSQL and the service tests, and mirrors the
// PostgreSQL semantics: conditional monitor writes and one alert per
// (position, PROFIT_TARGET|LOSS_LIMIT).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// DB holds all tables behind a single lock so that ApplyEvaluation can touch
// positions and alerts as one unit.
type DB struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	alerts    map[string]domain.Alert
	// dedup indexes deduplicated alerts by position and type.
	dedup   map[dedupKey]string
	signals []domain.SignalRecord
	now     func() time.Time
}

type dedupKey struct {
	positionID string
	alertType  domain.AlertType
}

// New creates an empty database.
func New() *DB {
	return &DB{
		positions: make(map[string]domain.Position),
		alerts:    make(map[string]domain.Alert),
		dedup:     make(map[dedupKey]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Positions returns the position table.
func (db *DB) Positions() *PositionStore { return &PositionStore{db: db} }

// Alerts returns the alert table.
func (db *DB) Alerts() *AlertStore { return &AlertStore{db: db} }

// Signals returns the prediction history table.
func (db *DB) Signals() *SignalStore { return &SignalStore{db: db} }

// insertAlertLocked applies the partial unique index. It reports false when a
// deduplicated alert already exists.
func (db *DB) insertAlertLocked(a domain.Alert) (bool, error) {
	if _, ok := db.alerts[a.ID]; ok {
		return false, domain.ErrAlreadyExists
	}
	if a.Type.Deduplicated() && a.PositionID != nil {
		key := dedupKey{positionID: *a.PositionID, alertType: a.Type}
		if _, ok := db.dedup[key]; ok {
			return false, nil
		}
		db.dedup[key] = a.ID
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = db.now()
	}
	db.alerts[a.ID] = a
	return true, nil
}

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	db *DB
}

func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	now := s.db.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.db.positions[p.ID] = p
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// List returns matching positions, newest entry first.
func (s *PositionStore) List(_ context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sym := domain.NormalizeSymbol(f.Symbol)
	out := make([]domain.Position, 0, len(s.db.positions))
	for _, p := range s.db.positions {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if sym != "" && p.Symbol != sym {
			continue
		}
		if f.Timeframe != "" && p.Timeframe != f.Timeframe {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes a position. Its alerts keep existing with the position
// reference cleared, as with ON DELETE SET NULL.
func (s *PositionStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.positions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.db.positions, id)
	s.db.detachAlertsLocked(id)
	return nil
}

func (s *PositionStore) DeleteAll(_ context.Context) ([]domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]domain.Position, 0, len(s.db.positions))
	for id, p := range s.db.positions {
		out = append(out, p)
		s.db.detachAlertsLocked(id)
	}
	s.db.positions = make(map[string]domain.Position)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *DB) detachAlertsLocked(positionID string) {
	for id, a := range db.alerts {
		if a.PositionID != nil && *a.PositionID == positionID {
			a.PositionID = nil
			db.alerts[id] = a
		}
	}
	for key := range db.dedup {
		if key.positionID == positionID {
			delete(db.dedup, key)
		}
	}
}

func (s *PositionStore) ApplyEvaluation(_ context.Context, p domain.Position, alert *domain.Alert) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	cur, ok := s.db.positions[p.ID]
	if !ok || !cur.Active() || cur.Version != p.Version {
		return false, domain.ErrConflict
	}

	created := false
	if alert != nil {
		var err error
		created, err = s.db.insertAlertLocked(*alert)
		if err != nil {
			return false, err
		}
	}

	cur.CurrentPrice = p.CurrentPrice
	cur.CurrentPnLPercent = p.CurrentPnLPercent
	cur.Status = p.Status
	cur.Version++
	cur.UpdatedAt = s.db.now()
	s.db.positions[p.ID] = cur
	return created, nil
}

// AlertStore implements domain.AlertStore.
type AlertStore struct {
	db *DB
}

// Create inserts an alert. A duplicate PROFIT_TARGET or LOSS_LIMIT alert for
// the same position is silently dropped.
func (s *AlertStore) Create(_ context.Context, a domain.Alert) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.insertAlertLocked(a)
}

func (s *AlertStore) GetByID(_ context.Context, id string) (domain.Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	a, ok := s.db.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrNotFound
	}
	return a, nil
}

// List returns matching alerts, most recent first.
func (s *AlertStore) List(_ context.Context, f domain.AlertFilter) ([]domain.Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]domain.Alert, 0, len(s.db.alerts))
	for _, a := range s.db.alerts {
		if f.PositionID != "" && (a.PositionID == nil || *a.PositionID != f.PositionID) {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.UnreadOnly && a.IsRead {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *AlertStore) MarkRead(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	a, ok := s.db.alerts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.IsRead = true
	s.db.alerts[id] = a
	return nil
}

func (s *AlertStore) DeleteAll(_ context.Context) ([]domain.Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]domain.Alert, 0, len(s.db.alerts))
	for _, a := range s.db.alerts {
		out = append(out, a)
	}
	s.db.alerts = make(map[string]domain.Alert)
	s.db.dedup = make(map[dedupKey]string)
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out, nil
}

// SignalStore implements domain.SignalStore.
type SignalStore struct {
	db *DB
}

func (s *SignalStore) Append(_ context.Context, rec domain.SignalRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.db.now()
	}
	s.db.signals = append(s.db.signals, rec)
	return nil
}

func (s *SignalStore) Recent(_ context.Context, symbol, timeframe string, n int) ([]domain.SignalRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sym := domain.NormalizeSymbol(symbol)
	var out []domain.SignalRecord
	for i := len(s.db.signals) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		rec := s.db.signals[i]
		if rec.Symbol == sym && rec.Timeframe == timeframe {
			out = append(out, rec)
		}
	}
	return out, nil
}
