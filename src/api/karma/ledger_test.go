package karma

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/snowlist/snowlist/src/api/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.User{}, &types.KarmaTransaction{}))
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB) *Ledger {
	t.Helper()
	l := NewLedger(db)
	l.now = func() time.Time { return midweek }
	return l
}

func createUser(t *testing.T, db *gorm.DB, handle string) types.User {
	t.Helper()
	user := types.User{Handle: handle, Email: handle + "@example.com", Role: "member"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestRecordAppendsAndUpdatesTotal(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "alice")

	txn, err := l.Record(context.Background(), user.ID, ActionPostCreated, Context{
		RelatedKind: "post",
		RelatedID:   7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), txn.RawDelta)
	require.Equal(t, int64(5), txn.AppliedDelta)
	require.Equal(t, int64(5), txn.BalanceAfter)

	var stored types.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	require.Equal(t, int64(5), stored.KarmaTotal)
	require.NotNil(t, stored.LastKarmaAt)

	var count int64
	db.Model(&types.KarmaTransaction{}).Where("user_id = ?", user.ID).Count(&count)
	require.Equal(t, int64(1), count)
}

func TestRecordUnknownUser(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)

	_, err := l.Record(context.Background(), 9999, ActionPostCreated, Context{})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordUnknownAction(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "bob")

	_, err := l.Record(context.Background(), user.ID, "nonsense", Context{})
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestRecordHourlyClamp(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "carol")

	// Three snowball initiations fill the 30-point hourly allowance.
	for i := 0; i < 3; i++ {
		txn, err := l.Record(context.Background(), user.ID, ActionSnowballInitiated, Context{})
		require.NoError(t, err)
		require.Equal(t, int64(10), txn.AppliedDelta)
	}

	txn, err := l.Record(context.Background(), user.ID, ActionSnowballInitiated, Context{})
	require.NoError(t, err)
	require.Equal(t, int64(10), txn.RawDelta)
	require.Equal(t, int64(0), txn.AppliedDelta, "hourly allowance exhausted")
	require.Equal(t, int64(30), txn.BalanceAfter)
}

func TestRecordDailyLossClamp(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "dave")

	txn, err := l.Record(context.Background(), user.ID, ActionSpamPenalty, Context{})
	require.NoError(t, err)
	require.Equal(t, int64(-50), txn.AppliedDelta)

	txn, err = l.Record(context.Background(), user.ID, ActionSpamPenalty, Context{})
	require.NoError(t, err)
	require.Equal(t, int64(-50), txn.AppliedDelta)

	// Daily loss allowance of 100 already consumed.
	txn, err = l.Record(context.Background(), user.ID, ActionSpamPenalty, Context{})
	require.NoError(t, err)
	require.Equal(t, int64(0), txn.AppliedDelta)
	require.Equal(t, int64(-100), txn.BalanceAfter)
}

func TestRecordGenerationDecay(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "erin")

	// Generation 5 pays 10% of the base 10 points.
	txn, err := l.Record(context.Background(), user.ID, ActionSnowballInitiated, Context{Generation: 5})
	require.NoError(t, err)
	require.Equal(t, int64(1), txn.AppliedDelta)
}

func TestTotalNoDecayWithinGrace(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "frank")

	last := midweek.Add(-10 * 24 * time.Hour)
	require.NoError(t, db.Model(&types.User{}).Where("id = ?", user.ID).
		Updates(map[string]any{"karma_total": 500, "last_karma_at": last}).Error)

	total, err := l.Total(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), total)
}

func TestTotalDecayFloor(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "grace")

	// 45 days idle: 15 decay days, 500 * 0.98^15 ≈ 370 clamps at 400.
	last := midweek.Add(-45 * 24 * time.Hour)
	require.NoError(t, db.Model(&types.User{}).Where("id = ?", user.ID).
		Updates(map[string]any{"karma_total": 500, "last_karma_at": last}).Error)

	total, err := l.Total(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(400), total)
}

func TestTotalProtectedThreshold(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "heidi")

	last := midweek.Add(-365 * 24 * time.Hour)
	require.NoError(t, db.Model(&types.User{}).Where("id = ?", user.ID).
		Updates(map[string]any{"karma_total": 1000, "last_karma_at": last}).Error)

	total, err := l.Total(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), total)
}

func TestDecayedTotalPartialDecay(t *testing.T) {
	now := midweek
	// 35 days idle: 5 decay days, 500 * 0.98^5 ≈ 452, above the 400 floor.
	got := DecayedTotal(500, now.Add(-35*24*time.Hour), now)
	require.Equal(t, int64(452), got)
}

func TestDecayNotPersisted(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	user := createUser(t, db, "ivan")

	last := midweek.Add(-45 * 24 * time.Hour)
	require.NoError(t, db.Model(&types.User{}).Where("id = ?", user.ID).
		Updates(map[string]any{"karma_total": 500, "last_karma_at": last}).Error)

	_, err := l.Total(context.Background(), user.ID)
	require.NoError(t, err)

	var stored types.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	require.Equal(t, int64(500), stored.KarmaTotal, "decay is computed on read, not written back")
}
