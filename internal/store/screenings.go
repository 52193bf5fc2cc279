package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// History page bounds.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// ErrNotFound is returned when a screening does not exist for the caller.
var ErrNotFound = errors.New("screening not found")

// PersistenceError wraps any storage fault.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// HistoryQuery selects one page of a user's screenings. An empty Disease
// matches every disease.
type HistoryQuery struct {
	UserID  uint
	Disease string
	Limit   int
}

// Append inserts one screening row and fills its ID and CreatedAt.
func (d *Database) Append(ctx context.Context, s *Screening) error {
	if s == nil {
		return &PersistenceError{Op: "append", Err: errors.New("screening is nil")}
	}
	if s.ID != 0 {
		return &PersistenceError{Op: "append", Err: errors.New("screening already persisted")}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.KeyFactors == nil {
		s.KeyFactors = datatypes.JSONSlice[string]{}
	}
	if len(s.InputData) == 0 {
		s.InputData = datatypes.JSON("{}")
	}

	ctx, cancel := d.opContext(ctx)
	defer cancel()
	if err := d.gorm.WithContext(ctx).Omit(clause.Associations).Create(s).Error; err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": s.UserID,
			"disease": s.Disease,
		}).Error("append screening")
		return &PersistenceError{Op: "append", Err: err}
	}
	return nil
}

// History returns the newest screenings for a user, ties broken by id.
func (d *Database) History(ctx context.Context, q HistoryQuery) ([]Screening, error) {
	ctx, cancel := d.opContext(ctx)
	defer cancel()

	query := d.gorm.WithContext(ctx).Model(&Screening{}).Where("user_id = ?", q.UserID)
	if q.Disease != "" {
		query = query.Where("disease = ?", q.Disease)
	}
	var rows []Screening
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(ClampLimit(q.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, &PersistenceError{Op: "history", Err: err}
	}
	return rows, nil
}

// GetByID returns the screening only when it belongs to userID.
func (d *Database) GetByID(ctx context.Context, userID, id uint) (*Screening, error) {
	ctx, cancel := d.opContext(ctx)
	defer cancel()

	var row Screening
	err := d.gorm.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &row, nil
}

// ClampLimit applies the default and upper bound to a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
