// Package betting lets participants stake coins on weekly hour outcomes:
// a personal bet against their own tracked hours, or a global bet against
// the event-wide total. Stakes leave the balance at placement; payouts are
// fixed at placement and collected once the measured hours reach the goal.
package betting

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/flags"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/models"
)

// Stake bounds per bet kind.
const (
	personalMinStake = 1
	personalMaxStake = 50
	globalMinStake   = 1
	globalMaxStake   = 200
)

var (
	// ErrBettingDisabled refuses placement when the betting flag is off.
	ErrBettingDisabled = errors.New("betting: betting is not enabled")
	// ErrBettingClosed refuses placement outside Monday through Thursday.
	ErrBettingClosed = errors.New("betting: bets may only be placed Monday through Thursday")
	// ErrBetExists refuses a second bet of the same kind in one week.
	ErrBetExists = errors.New("betting: a bet of this kind already exists for this week")
	// ErrStakeOutOfRange refuses stakes outside the kind's bounds.
	ErrStakeOutOfRange = errors.New("betting: stake out of range")
	// ErrInvalidMultiplier refuses non-positive payout multipliers.
	ErrInvalidMultiplier = errors.New("betting: multiplier must be positive")
	// ErrBetNotFound marks collection of an unknown bet.
	ErrBetNotFound = errors.New("betting: bet not found")
	// ErrAlreadyPaidOut refuses a second collection.
	ErrAlreadyPaidOut = errors.New("betting: bet already paid out")
	// ErrGoalNotReached refuses collection before the hours goal is met.
	ErrGoalNotReached = errors.New("betting: hours goal not reached")
)

// globalStatuses are the project states whose hours count toward the
// event-wide total. Hidden projects count too.
var globalStatuses = []models.ProjectStatus{
	models.StatusSubmitted,
	models.StatusPendingVoting,
	models.StatusWaitingForReview,
	models.StatusFinished,
}

// HoursMeasurer reports a user's tracked hours for one project's window.
type HoursMeasurer interface {
	ProjectHours(ctx context.Context, owner *models.User, project *models.Project) float64
}

// Engine owns bet placement and collection.
type Engine struct {
	db     *gorm.DB
	cal    *calendar.Calendar
	flags  flags.Checker
	hours  HoursMeasurer
	logger *slog.Logger
	now    func() time.Time
}

// New builds a betting engine.
func New(db *gorm.DB, cal *calendar.Calendar, fl flags.Checker, hours HoursMeasurer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, cal: cal, flags: fl, hours: hours, logger: logger, now: time.Now}
}

func bettingOpen(weekday time.Weekday) bool {
	return weekday >= time.Monday && weekday <= time.Thursday
}

// PlaceInput carries the caller-supplied terms of a bet.
type PlaceInput struct {
	Stake      int64
	Multiplier float64
	// HoursGoal applies to personal bets.
	HoursGoal float64
	// PredictedHours applies to global bets.
	PredictedHours float64
}

func (e *Engine) checkPlacement(ctx context.Context, user *models.User, stake int64, min, max int64, multiplier float64) error {
	if !e.flags.Enabled(ctx, flags.Betting, user.SlackID) {
		return ErrBettingDisabled
	}
	if !bettingOpen(e.now().UTC().Weekday()) {
		return ErrBettingClosed
	}
	if stake < min || stake > max {
		return ErrStakeOutOfRange
	}
	if multiplier <= 0 {
		return ErrInvalidMultiplier
	}
	return nil
}

// PlacePersonal stakes coins on the user's own tracked hours this week.
func (e *Engine) PlacePersonal(ctx context.Context, user *models.User, in PlaceInput) (*models.PersonalBet, error) {
	if err := e.checkPlacement(ctx, user, in.Stake, personalMinStake, personalMaxStake, in.Multiplier); err != nil {
		return nil, err
	}
	week := e.cal.WeekNumber(e.now().UTC())

	bet := models.PersonalBet{
		ID:              uuid.New(),
		UserID:          user.ID,
		Week:            week,
		CoinAmount:      in.Stake,
		EstimatedPayout: int64(math.Floor(float64(in.Stake) * in.Multiplier)),
		HoursGoal:       in.HoursGoal,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The user row lock serializes placements for one user, so two
		// concurrent requests cannot both pass the one-per-week count.
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&owner, "id = ?", user.ID).Error; err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&models.PersonalBet{}).
			Where("user_id = ? AND week = ?", user.ID, week).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrBetExists
		}
		if err := tx.Create(&bet).Error; err != nil {
			return err
		}
		_, err := ledger.ApplyTx(tx, ledger.Mutation{
			UserID:    user.ID,
			Action:    "placed_personal_bet",
			ActorID:   user.ID,
			SourceRef: "bet:" + bet.ID.String() + ":stake",
			Delta:     -in.Stake,
			Details:   map[string]string{"kind": "personal"},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &bet, nil
}

// PlaceGlobal stakes coins on the event-wide hour total this week.
func (e *Engine) PlaceGlobal(ctx context.Context, user *models.User, in PlaceInput) (*models.GlobalBet, error) {
	if err := e.checkPlacement(ctx, user, in.Stake, globalMinStake, globalMaxStake, in.Multiplier); err != nil {
		return nil, err
	}
	week := e.cal.WeekNumber(e.now().UTC())

	bet := models.GlobalBet{
		ID:              uuid.New(),
		UserID:          user.ID,
		Week:            week,
		CoinAmount:      in.Stake,
		EstimatedPayout: int64(math.Floor(float64(in.Stake) * in.Multiplier)),
		PredictedHours:  in.PredictedHours,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&owner, "id = ?", user.ID).Error; err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&models.GlobalBet{}).
			Where("user_id = ? AND week = ?", user.ID, week).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrBetExists
		}
		if err := tx.Create(&bet).Error; err != nil {
			return err
		}
		_, err := ledger.ApplyTx(tx, ledger.Mutation{
			UserID:    user.ID,
			Action:    "placed_global_bet",
			ActorID:   user.ID,
			SourceRef: "bet:" + bet.ID.String() + ":stake",
			Delta:     -in.Stake,
			Details:   map[string]string{"kind": "global"},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &bet, nil
}

// PersonalHours sums the user's tracked hours across their projects of the
// given week over each project's effective window.
func (e *Engine) PersonalHours(ctx context.Context, user *models.User, week int) (float64, error) {
	from, to, ok := e.cal.WeekBounds(week)
	if !ok {
		return 0, errors.New("betting: event start date not configured")
	}
	var projects []models.Project
	if err := e.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", user.ID, from, to).
		Find(&projects).Error; err != nil {
		return 0, err
	}
	var total float64
	for i := range projects {
		total += e.hours.ProjectHours(ctx, user, &projects[i])
	}
	return total, nil
}

// GlobalHours sums tracked hours over every counted project of the week,
// hidden ones included.
func (e *Engine) GlobalHours(ctx context.Context, week int) (float64, error) {
	from, to, ok := e.cal.WeekBounds(week)
	if !ok {
		return 0, errors.New("betting: event start date not configured")
	}
	var projects []models.Project
	if err := e.db.WithContext(ctx).
		Where("status IN ? AND created_at >= ? AND created_at < ?", globalStatuses, from, to).
		Find(&projects).Error; err != nil {
		return 0, err
	}
	var total float64
	for i := range projects {
		var owner models.User
		if err := e.db.WithContext(ctx).First(&owner, "id = ?", projects[i].UserID).Error; err != nil {
			continue
		}
		total += e.hours.ProjectHours(ctx, &owner, &projects[i])
	}
	return total, nil
}

// CollectPersonal pays out a personal bet once the owner's measured hours
// reach the goal. Payout happens exactly once.
func (e *Engine) CollectPersonal(ctx context.Context, user *models.User, betID uuid.UUID) (int64, error) {
	var bet models.PersonalBet
	if err := e.db.WithContext(ctx).First(&bet, "id = ? AND user_id = ?", betID, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrBetNotFound
		}
		return 0, err
	}
	hours, err := e.PersonalHours(ctx, user, bet.Week)
	if err != nil {
		return 0, err
	}
	if hours < bet.HoursGoal {
		return 0, ErrGoalNotReached
	}
	return e.payOut(ctx, &models.PersonalBet{}, bet.ID, user.ID, bet.EstimatedPayout, "collected_personal_bet")
}

// CollectGlobal pays out a global bet once the measured event-wide hours
// reach the prediction.
func (e *Engine) CollectGlobal(ctx context.Context, user *models.User, betID uuid.UUID) (int64, error) {
	var bet models.GlobalBet
	if err := e.db.WithContext(ctx).First(&bet, "id = ? AND user_id = ?", betID, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrBetNotFound
		}
		return 0, err
	}
	hours, err := e.GlobalHours(ctx, bet.Week)
	if err != nil {
		return 0, err
	}
	if hours < bet.PredictedHours {
		return 0, ErrGoalNotReached
	}
	return e.payOut(ctx, &models.GlobalBet{}, bet.ID, user.ID, bet.EstimatedPayout, "collected_global_bet")
}

// payOut flips paid_out under a row lock and credits the payout keyed on
// the bet id, so a raced double collection settles as one credit.
func (e *Engine) payOut(ctx context.Context, model interface{}, betID, userID uuid.UUID, payout int64, action string) (int64, error) {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(model).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND paid_out = ?", betID, false).
			Update("paid_out", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyPaidOut
		}
		_, err := ledger.ApplyTx(tx, ledger.Mutation{
			UserID:    userID,
			Action:    action,
			ActorID:   userID,
			SourceRef: "bet:" + betID.String() + ":payout",
			Delta:     payout,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return payout, nil
}
