// Package ballots assigns weekly peer-review ballots and accepts their
// submission. Assignment favors the least-voted projects so exposure stays
// even across the field.
package ballots

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/flags"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/models"
)

// ballotSize is the fixed number of projects on every ballot.
const ballotSize = 4

// submitReward is the coin credit for completing a ballot.
const submitReward = 3

var (
	// ErrNotEnoughProjects means the week's pool cannot fill a ballot.
	ErrNotEnoughProjects = errors.New("ballots: not enough projects to assign a ballot")
	// ErrBallotExists refuses a second ballot for the same week.
	ErrBallotExists = errors.New("ballots: ballot already assigned for this week")
	// ErrVotingClosed refuses assignment outside the voting window.
	ErrVotingClosed = errors.New("ballots: voting is only open Monday through Wednesday")
	// ErrBallotNotFound marks an operation against an unknown ballot.
	ErrBallotNotFound = errors.New("ballots: ballot not found")
	// ErrAlreadyVoted refuses changes to a submitted ballot.
	ErrAlreadyVoted = errors.New("ballots: ballot already submitted")
	// ErrReasoningRequired refuses submission without written reasoning.
	ErrReasoningRequired = errors.New("ballots: reasoning is required")
	// ErrNotBallotOwner refuses submission by anyone but the assignee.
	ErrNotBallotOwner = errors.New("ballots: ballot belongs to another user")
	// ErrInvalidStars refuses star counts outside 1 through 5.
	ErrInvalidStars = errors.New("ballots: star counts must be between 1 and 5")
)

// Engine owns ballot assignment and submission.
type Engine struct {
	db     *gorm.DB
	cal    *calendar.Calendar
	flags  flags.Checker
	logger *slog.Logger
	now    func() time.Time
	rng    *rand.Rand
}

// New builds a ballot engine.
func New(db *gorm.DB, cal *calendar.Calendar, fl flags.Checker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:     db,
		cal:    cal,
		flags:  fl,
		logger: logger,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func votingOpen(weekday time.Weekday) bool {
	return weekday >= time.Monday && weekday <= time.Wednesday
}

// Assign builds a ballot for the previous event week: the four
// least-voted pending_voting projects from that week, excluding the
// requester's own. Nothing is written when fewer than four qualify.
func (e *Engine) Assign(ctx context.Context, user *models.User) (*models.Ballot, error) {
	now := e.now().UTC()
	if !votingOpen(now.Weekday()) && !e.flags.Enabled(ctx, flags.VotingAnyDay, user.SlackID) {
		return nil, ErrVotingClosed
	}

	week := e.cal.WeekNumber(now) - 1
	from, to, ok := e.cal.WeekBounds(week)
	if !ok {
		return nil, errors.New("ballots: event start date not configured")
	}

	pool := e.db.WithContext(ctx).Model(&models.Project{}).
		Where("status = ?", models.StatusPendingVoting).
		Where("user_id <> ?", user.ID).
		Where("created_at >= ? AND created_at < ?", from, to)
	if user.Rank != models.RankSuperAdmin {
		pool = pool.Where("hidden = ?", false)
	}
	var projects []models.Project
	if err := pool.Find(&projects).Error; err != nil {
		return nil, err
	}
	if len(projects) < ballotSize {
		return nil, ErrNotEnoughProjects
	}

	counts, err := e.castVoteCounts(ctx, projects)
	if err != nil {
		return nil, err
	}

	// Least-voted first; ties break randomly so early projects are not
	// permanently favored.
	order := e.rng.Perm(len(projects))
	sort.SliceStable(order, func(i, j int) bool {
		return counts[projects[order[i]].ID] < counts[projects[order[j]].ID]
	})

	ballot := models.Ballot{ID: uuid.New(), UserID: user.ID, Week: week}
	votes := make([]models.Vote, 0, ballotSize)
	for _, idx := range order[:ballotSize] {
		votes = append(votes, models.Vote{
			ID:        uuid.New(),
			BallotID:  ballot.ID,
			ProjectID: projects[idx].ID,
			Week:      week,
			StarCount: 1,
		})
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The user row lock serializes concurrent assignments for one user,
		// so the one-ballot-per-week check cannot race another insert.
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&owner, "id = ?", user.ID).Error; err != nil {
			return err
		}
		if !e.flags.Enabled(ctx, flags.MultipleBallots, user.SlackID) {
			var existing int64
			if err := tx.Model(&models.Ballot{}).
				Where("user_id = ? AND week = ?", user.ID, week).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				return ErrBallotExists
			}
		}
		if err := tx.Create(&ballot).Error; err != nil {
			return err
		}
		return tx.Create(&votes).Error
	})
	if err != nil {
		return nil, err
	}
	ballot.Votes = votes
	return &ballot, nil
}

func (e *Engine) castVoteCounts(ctx context.Context, projects []models.Project) (map[uuid.UUID]int, error) {
	ids := make([]uuid.UUID, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	type row struct {
		ProjectID uuid.UUID
		Total     int
	}
	var rows []row
	if err := e.db.WithContext(ctx).Model(&models.Vote{}).
		Select("project_id, COUNT(*) AS total").
		Where("voted = ? AND project_id IN ?", true, ids).
		Group("project_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int, len(projects))
	for _, r := range rows {
		counts[r.ProjectID] = r.Total
	}
	return counts, nil
}

// Submit records star counts and reasoning, marks the ballot and its votes
// as cast, and credits the reward exactly once keyed on the ballot id.
func (e *Engine) Submit(ctx context.Context, user *models.User, ballotID uuid.UUID, reasoning string, stars map[uuid.UUID]int) (*models.Ballot, error) {
	if reasoning == "" {
		return nil, ErrReasoningRequired
	}
	for _, s := range stars {
		if s < 1 || s > 5 {
			return nil, ErrInvalidStars
		}
	}

	var ballot models.Ballot
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ballot, "id = ?", ballotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBallotNotFound
			}
			return err
		}
		if ballot.UserID != user.ID {
			return ErrNotBallotOwner
		}
		if ballot.Voted {
			return ErrAlreadyVoted
		}

		var votes []models.Vote
		if err := tx.Find(&votes, "ballot_id = ?", ballot.ID).Error; err != nil {
			return err
		}
		for i := range votes {
			if s, ok := stars[votes[i].ID]; ok {
				votes[i].StarCount = s
			}
			votes[i].Voted = true
			if err := tx.Model(&models.Vote{}).Where("id = ?", votes[i].ID).
				Updates(map[string]interface{}{"star_count": votes[i].StarCount, "voted": true}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Ballot{}).Where("id = ?", ballot.ID).
			Updates(map[string]interface{}{"voted": true, "reasoning": reasoning}).Error; err != nil {
			return err
		}
		ballot.Voted = true
		ballot.Reasoning = reasoning
		ballot.Votes = votes

		_, err := ledger.ApplyTx(tx, ledger.Mutation{
			UserID:    user.ID,
			Action:    "ballot_reward",
			ActorID:   user.ID,
			SourceRef: "ballot:" + ballot.ID.String(),
			Delta:     submitReward,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ballot, nil
}

// CastScore averages the star counts of cast votes for a project. Projects
// with no cast votes score zero; reward math floors the score at one.
func (e *Engine) CastScore(ctx context.Context, projectID uuid.UUID) (float64, error) {
	type row struct {
		Avg   float64
		Total int
	}
	var r row
	if err := e.db.WithContext(ctx).Model(&models.Vote{}).
		Select("COALESCE(AVG(star_count), 0) AS avg, COUNT(*) AS total").
		Where("project_id = ? AND voted = ?", projectID, true).
		Scan(&r).Error; err != nil {
		return 0, err
	}
	return r.Avg, nil
}
