package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Rank enumerations for persistence.
const (
	RankUser       = "user"
	RankViewer     = "viewer"
	RankReviewer   = "reviewer"
	RankAdmin      = "admin"
	RankSuperAdmin = "super_admin"
)

// UserStatus represents a participant's standing in the event.
type UserStatus string

// All user statuses.
const (
	UserNew     UserStatus = "new"
	UserWorking UserStatus = "working"
	UserOut     UserStatus = "out"
	UserBanned  UserStatus = "banned"
)

// ProjectStatus represents a state in the weekly project workflow.
type ProjectStatus string

// All workflow states.
const (
	StatusBuilding         ProjectStatus = "building"
	StatusSubmitted        ProjectStatus = "submitted"
	StatusPendingVoting    ProjectStatus = "pending_voting"
	StatusWaitingForReview ProjectStatus = "waiting_for_review"
	StatusFinished         ProjectStatus = "finished"
)

// FraudStatus marks the outcome of fraud review on a project.
type FraudStatus string

// All fraud review outcomes.
const (
	FraudUnchecked FraudStatus = "unchecked"
	FraudSus       FraudStatus = "sus"
	FraudConfirmed FraudStatus = "fraud"
	FraudGood      FraudStatus = "good"
)

// User stores a participant. Coins are mutated only through the ledger.
type User struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SlackID     string     `gorm:"uniqueIndex;size:64"`
	Email       string     `gorm:"size:255"`
	Name        string     `gorm:"size:255"`
	DisplayName string     `gorm:"size:255"`
	Rank        string     `gorm:"index;size:32"`
	Status      UserStatus `gorm:"index;size:16"`
	Coins       int64      `gorm:"not null;default:0"`
	AuditLogs   AuditLog   `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Projects    []Project
	Ballots     []Ballot
	UserWeeks   []UserWeek
}

// Banned reports whether the user is locked out of the event.
func (u *User) Banned() bool { return u.Status == UserBanned }

// Out reports whether the user has stopped actively working.
func (u *User) Out() bool { return u.Status == UserOut }

// CanReview reports whether the user may act as a reviewer.
func (u *User) CanReview() bool {
	switch u.Rank {
	case RankReviewer, RankAdmin, RankSuperAdmin:
		return true
	}
	return false
}

// Project describes one week's build across its lifecycle.
type Project struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primaryKey"`
	UserID             uuid.UUID     `gorm:"type:uuid;index"`
	Name               string        `gorm:"size:255"`
	Description        string        `gorm:"type:text"`
	Status             ProjectStatus `gorm:"size:32;index"`
	Hidden             bool          `gorm:"not null;default:false"`
	FraudStatus        FraudStatus   `gorm:"size:16;index"`
	FraudReasoning     string        `gorm:"type:text"`
	RepoURL            string        `gorm:"size:512"`
	DemoURL            string        `gorm:"size:512"`
	ScreenshotKey      string        `gorm:"size:255"`
	HackatimeProjects  StringList    `gorm:"type:text"`
	CoinValue          int64         `gorm:"not null;default:0"`
	ReviewerMultiplier float64       `gorm:"not null;default:2"`
	TimeOverrideDays   *int
	Logs               TransitionLog `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Votes              []Vote
}

// Ballot is one user's weekly peer-review assignment.
type Ballot struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index:idx_ballots_user_week"`
	Week      int       `gorm:"index:idx_ballots_user_week"`
	Voted     bool      `gorm:"not null;default:false"`
	Reasoning string    `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Votes     []Vote
}

// Vote assigns one project to a ballot. Several ballots may carry votes for
// the same project; there is deliberately no uniqueness constraint.
type Vote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	BallotID  uuid.UUID `gorm:"type:uuid;index"`
	ProjectID uuid.UUID `gorm:"type:uuid;index"`
	Week      int
	StarCount int  `gorm:"not null;default:1"`
	Voted     bool `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserWeek carries per-week goal offsets. Rows for weeks 1..14 are
// pre-provisioned at registration and mutated in place afterwards.
type UserWeek struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_weeks_user_week"`
	Week            int       `gorm:"uniqueIndex:idx_user_weeks_user_week"`
	ArbitraryOffset int       `gorm:"not null;default:0"`
	MercenaryOffset int       `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TotalOffset is the combined reduction applied to the week's hour goal.
func (w *UserWeek) TotalOffset() int { return w.ArbitraryOffset + w.MercenaryOffset }

// EffectiveHourGoal returns the week's goal after offsets, floored at zero.
func (w *UserWeek) EffectiveHourGoal() int {
	goal := BaseHourGoal(w.Week) - w.TotalOffset()
	if goal < 0 {
		return 0
	}
	return goal
}

// BaseHourGoal is 9 for week 5 and 10 for every other week.
func BaseHourGoal(week int) int {
	if week == 5 {
		return 9
	}
	return 10
}

// PersonalBet wagers coins on the owner's own weekly hours.
type PersonalBet struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;index:idx_personal_bets_user_week"`
	Week            int       `gorm:"index:idx_personal_bets_user_week"`
	CoinAmount      int64     `gorm:"not null"`
	EstimatedPayout int64     `gorm:"not null"`
	HoursGoal       float64   `gorm:"not null"`
	PaidOut         bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GlobalBet wagers coins on the aggregate hours of every eligible project.
type GlobalBet struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;index:idx_global_bets_user_week"`
	Week            int       `gorm:"index:idx_global_bets_user_week"`
	CoinAmount      int64     `gorm:"not null"`
	EstimatedPayout int64     `gorm:"not null"`
	PredictedHours  float64   `gorm:"not null"`
	PaidOut         bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ShopPurchase records a coin purchase in the market.
type ShopPurchase struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;index"`
	ItemName   string    `gorm:"size:128;index"`
	CoinsSpent int64     `gorm:"not null"`
	Week       int
	CreatedAt  time.Time
}

// HackatimeDay is the daily snapshot of event-wide tracked time.
type HackatimeDay struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Date       string    `gorm:"uniqueIndex;size:10"`
	TotalHours float64   `gorm:"not null;default:0"`
	UserCount  int       `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Project{},
		&Ballot{},
		&Vote{},
		&UserWeek{},
		&PersonalBet{},
		&GlobalBet{},
		&ShopPurchase{},
		&HackatimeDay{},
		&IdempotencyKey{},
	)
}
