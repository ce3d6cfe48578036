package karma

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/types"
)

// Gain/loss clamps per user
const (
	MaxDailyGain  = 100
	MaxHourlyGain = 30
	MaxDailyLoss  = 100 // absolute value
)

// Decay parameters. Users at or above ProtectedThreshold never decay.
const (
	InactiveDays       = 30
	DailyDecayRate     = 0.02
	MaxDecayPercentage = 0.20
	ProtectedThreshold = 1000
)

const conflictRetries = 3

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUnknownAction = errors.New("unknown karma action")
)

// Ledger is the single entry point for karma mutations. Every scoring
// action anywhere in the platform goes through Record; nothing else writes
// User.KarmaTotal.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Record appends a transaction and updates the cached total atomically.
// The write is never silently dropped; storage errors propagate so the
// caller can retry.
func (l *Ledger) Record(ctx context.Context, userID uint64, action string, actx Context) (types.KarmaTransaction, error) {
	base, ok := BasePoints(action)
	if !ok {
		return types.KarmaTransaction{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	now := l.now()
	if actx.Now.IsZero() {
		actx.Now = now
	}

	raw := float64(base) * QualityMultiplier(actx)
	if actx.Generation > 0 {
		raw *= GenerationDecay(actx.Generation)
	}
	rawDelta := int64(math.Round(raw))

	var txn types.KarmaTransaction
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		txn, err = l.record(ctx, userID, action, actx, rawDelta, now)
		if err == nil || errors.Is(err, ErrUserNotFound) {
			return txn, err
		}
	}
	return types.KarmaTransaction{}, fmt.Errorf("karma record: %w", err)
}

func (l *Ledger) record(ctx context.Context, userID uint64, action string, actx Context, rawDelta int64, now time.Time) (types.KarmaTransaction, error) {
	var txn types.KarmaTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := clampDelta(tx, userID, rawDelta, now)
		if err != nil {
			return err
		}

		res := tx.Model(&types.User{}).Where("id = ?", userID).Updates(map[string]any{
			"karma_total":   gorm.Expr("karma_total + ?", applied),
			"last_karma_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		var user types.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}

		txn = types.KarmaTransaction{
			UserID:       userID,
			Action:       action,
			RawDelta:     rawDelta,
			AppliedDelta: applied,
			BalanceAfter: user.KarmaTotal,
			RelatedKind:  actx.RelatedKind,
			RelatedID:    actx.RelatedID,
			CreatedAt:    now,
		}
		return tx.Create(&txn).Error
	})
	return txn, err
}

// clampDelta trims the raw delta to the remaining hourly/daily allowance.
func clampDelta(tx *gorm.DB, userID uint64, raw int64, now time.Time) (int64, error) {
	if raw == 0 {
		return 0, nil
	}

	dayStart := now.Add(-24 * time.Hour)
	hourStart := now.Add(-time.Hour)

	if raw > 0 {
		gainedDay, err := sumApplied(tx, userID, dayStart, true)
		if err != nil {
			return 0, err
		}
		gainedHour, err := sumApplied(tx, userID, hourStart, true)
		if err != nil {
			return 0, err
		}
		allowance := min64(MaxDailyGain-gainedDay, MaxHourlyGain-gainedHour)
		if allowance <= 0 {
			return 0, nil
		}
		return min64(raw, allowance), nil
	}

	lostDay, err := sumApplied(tx, userID, dayStart, false)
	if err != nil {
		return 0, err
	}
	allowance := MaxDailyLoss + lostDay // lostDay is negative
	if allowance <= 0 {
		return 0, nil
	}
	return -min64(-raw, allowance), nil
}

func sumApplied(tx *gorm.DB, userID uint64, since time.Time, gains bool) (int64, error) {
	cmp := "> 0"
	if !gains {
		cmp = "< 0"
	}
	var sum int64
	err := tx.Model(&types.KarmaTransaction{}).
		Where("user_id = ? AND created_at >= ? AND applied_delta "+cmp, userID, since).
		Select("COALESCE(SUM(applied_delta), 0)").
		Scan(&sum).Error
	return sum, err
}

// Total returns the user's karma with inactivity decay applied lazily.
// Decay is computed on read and only persisted when the next scoring
// action recalculates the total.
func (l *Ledger) Total(ctx context.Context, userID uint64) (int64, error) {
	var user types.User
	if err := l.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}

	last := user.CreatedAt
	if user.LastKarmaAt != nil {
		last = *user.LastKarmaAt
	}
	return DecayedTotal(user.KarmaTotal, last, l.now()), nil
}

// DecayedTotal applies the inactivity decay curve to a cached total.
// Totals at or above ProtectedThreshold are exempt; decay compounds per
// idle day past the grace window and is floored at MaxDecayPercentage of
// the original total.
func DecayedTotal(total int64, lastActivity, now time.Time) int64 {
	if total <= 0 || total >= ProtectedThreshold || lastActivity.IsZero() {
		return total
	}
	idleDays := int(now.Sub(lastActivity).Hours() / 24)
	if idleDays <= InactiveDays {
		return total
	}

	decayDays := idleDays - InactiveDays
	decayed := float64(total) * math.Pow(1-DailyDecayRate, float64(decayDays))
	floor := float64(total) * (1 - MaxDecayPercentage)
	if decayed < floor {
		decayed = floor
	}
	return int64(math.Round(decayed))
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
