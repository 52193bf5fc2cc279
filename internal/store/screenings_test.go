package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(Config{Driver: DriverSQLite, DSN: "file::memory:", Silent: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUser(t *testing.T, db *Database, id uint) {
	t.Helper()
	require.NoError(t, db.EnsureUser(context.Background(), &User{ID: id, Email: "user@example.com", Name: "Test"}))
}

func newScreening(userID uint, level string, createdAt time.Time) *Screening {
	return &Screening{
		UserID:          userID,
		Disease:         "diabetes",
		RiskProbability: 41.5,
		RiskLevel:       level,
		KeyFactors:      datatypes.JSONSlice[string]{"High blood pressure"},
		Recommendation:  "Moderate risk. Schedule HbA1c and fasting glucose test.",
		ThresholdUsed:   0.31,
		ThresholdType:   "screening",
		ModelConfidence: datatypes.NewJSONType(map[string]float64{"xgb": 40.2}),
		Disclaimer:      "Screening only. Does not replace medical diagnosis.",
		InputData:       datatypes.JSON(`{"BMI":27.1,"Age":6}`),
		CreatedAt:       createdAt,
	}
}

func TestAppendAssignsIdentity(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	ctx := context.Background()

	first := newScreening(1, "medium", time.Time{})
	second := newScreening(1, "medium", time.Time{})
	require.NoError(t, db.Append(ctx, first))
	require.NoError(t, db.Append(ctx, second))

	assert.NotZero(t, first.ID)
	assert.NotZero(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID, "identical submissions are not deduplicated")
	assert.False(t, first.CreatedAt.IsZero())

	loaded, err := db.GetByID(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RiskProbability, loaded.RiskProbability)
	assert.Equal(t, first.RiskLevel, loaded.RiskLevel)
	assert.Equal(t, []string{"High blood pressure"}, loaded.Factors())
	assert.Equal(t, map[string]float64{"xgb": 40.2}, loaded.Confidence())
	assert.JSONEq(t, `{"BMI":27.1,"Age":6}`, string(loaded.InputData))
}

func TestAppendRejectsPersistedRow(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	row := newScreening(1, "low", time.Time{})
	require.NoError(t, db.Append(context.Background(), row))

	err := db.Append(context.Background(), row)
	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))
}

func TestAppendUnknownUserFails(t *testing.T) {
	db := openTestDB(t)
	err := db.Append(context.Background(), newScreening(42, "low", time.Time{}))
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "append", perr.Op)
}

func TestHistoryOrderingAndScope(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	seedUser(t, db, 2)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ownIDs []uint
	for i := 0; i < 5; i++ {
		row := newScreening(1, "low", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, db.Append(ctx, row))
		ownIDs = append(ownIDs, row.ID)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Append(ctx, newScreening(2, "high", base.Add(time.Duration(10+i)*time.Hour))))
	}
	other := newScreening(1, "low", base.Add(20*time.Hour))
	other.Disease = "anemia"
	require.NoError(t, db.Append(ctx, other))

	rows, err := db.History(ctx, HistoryQuery{UserID: 1, Disease: "diabetes", Limit: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []uint{ownIDs[4], ownIDs[3], ownIDs[2]}, []uint{rows[0].ID, rows[1].ID, rows[2].ID})
	for _, row := range rows {
		assert.Equal(t, uint(1), row.UserID)
		assert.Equal(t, "diabetes", row.Disease)
	}

	all, err := db.History(ctx, HistoryQuery{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, other.ID, all[0].ID)
}

func TestHistoryTiesBreakByID(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := newScreening(1, "low", at)
	b := newScreening(1, "low", at)
	require.NoError(t, db.Append(ctx, a))
	require.NoError(t, db.Append(ctx, b))

	rows, err := db.History(ctx, HistoryQuery{UserID: 1, Disease: "diabetes"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].ID)
	assert.Equal(t, a.ID, rows[1].ID)
}

func TestGetByIDScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	seedUser(t, db, 2)
	ctx := context.Background()

	row := newScreening(2, "high", time.Time{})
	require.NoError(t, db.Append(ctx, row))

	_, err := db.GetByID(ctx, 1, row.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetByID(ctx, 2, row.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.GetByID(ctx, 2, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(-4))
	assert.Equal(t, 3, ClampLimit(3))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(5000))
}

func TestAppendDriverFaultIsPersistenceError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := OpenDialector(postgres.New(postgres.Config{Conn: sqlDB}), Config{Silent: true, SkipMigrate: true})
	require.NoError(t, err)

	mock.ExpectQuery(`INSERT INTO "screenings"`).WillReturnError(errors.New("connection reset by peer"))

	err = db.Append(context.Background(), newScreening(1, "low", time.Time{}))
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Contains(t, perr.Error(), "connection reset by peer")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDDriverFault(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := OpenDialector(postgres.New(postgres.Config{Conn: sqlDB}), Config{Silent: true, SkipMigrate: true})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "screenings"`).WillReturnError(errors.New("too many clients"))

	_, err = db.GetByID(context.Background(), 1, 7)
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendConnectionWaitIsBounded(t *testing.T) {
	db, err := Open(Config{Driver: DriverSQLite, DSN: "file::memory:", Silent: true, AcquireTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	seedUser(t, db, 1)

	sqlDB, err := db.GORM().DB()
	require.NoError(t, err)
	held, err := sqlDB.Conn(context.Background())
	require.NoError(t, err)
	defer held.Close()

	start := time.Now()
	err = db.Append(context.Background(), newScreening(1, "low", time.Time{}))
	elapsed := time.Since(start)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	require.NoError(t, held.Close())
	require.NoError(t, db.Append(context.Background(), newScreening(1, "low", time.Time{})))
}

func TestConcurrentAppendsGetDistinctRows(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	ctx := context.Background()

	const writers = 16
	rows := make([]*Screening, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		rows[i] = newScreening(1, "medium", time.Time{})
		rows[i].RiskProbability = float64(i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Append(ctx, rows[i])
		}(i)
	}
	wg.Wait()

	ids := make(map[uint]bool, writers)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		ids[rows[i].ID] = true
	}
	assert.Len(t, ids, writers)

	for i := 0; i < writers; i++ {
		stored, err := db.GetByID(ctx, 1, rows[i].ID)
		require.NoError(t, err)
		assert.Equal(t, float64(i), stored.RiskProbability)
		assert.Equal(t, []string{"High blood pressure"}, stored.Factors())
	}
}
