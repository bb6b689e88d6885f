// Package lifecycle drives projects through the weekly workflow: creation,
// submission eligibility, reviewer transitions, and the transition log.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/flags"
	"github.com/hackclub/siege/models"
	"github.com/hackclub/siege/notify"
)

// validTransitions maps each workflow state to the states it may move to.
// Rejection from review returns a project to building for rework.
var validTransitions = map[models.ProjectStatus][]models.ProjectStatus{
	models.StatusBuilding:         {models.StatusSubmitted},
	models.StatusSubmitted:        {models.StatusPendingVoting},
	models.StatusPendingVoting:    {models.StatusWaitingForReview, models.StatusBuilding},
	models.StatusWaitingForReview: {models.StatusFinished, models.StatusBuilding},
	models.StatusFinished:         {},
}

var (
	// ErrProjectNotFound marks an operation against an unknown project.
	ErrProjectNotFound = errors.New("lifecycle: project not found")
	// ErrInvalidTransition refuses a move the workflow does not allow.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrWeeklyProjectExists refuses a second project in the same week.
	ErrWeeklyProjectExists = errors.New("lifecycle: a project already exists for this week")
	// ErrCalendarUnconfigured marks operations that need an event start date.
	ErrCalendarUnconfigured = errors.New("lifecycle: event start date not configured")
)

// TimeSource measures tracked seconds for a user's activity names over an
// inclusive date range.
type TimeSource interface {
	TotalSeconds(ctx context.Context, userID string, names []string, startDate, endDate string) int64
}

// ScreenshotStore verifies that an uploaded screenshot exists.
type ScreenshotStore interface {
	Exists(ctx context.Context, key string) bool
}

// Service owns project workflow operations.
type Service struct {
	db          *gorm.DB
	cal         *calendar.Calendar
	timeSource  TimeSource
	flags       flags.Checker
	notifier    notify.Notifier
	screenshots ScreenshotStore
	logger      *slog.Logger
	now         func() time.Time
}

// New wires a lifecycle service. A nil notifier or screenshot store is
// replaced with a permissive no-op.
func New(db *gorm.DB, cal *calendar.Calendar, ts TimeSource, fl flags.Checker, n notify.Notifier, ss ScreenshotStore, logger *slog.Logger) *Service {
	if n == nil {
		n = notify.Noop{}
	}
	if ss == nil {
		ss = alwaysPresent{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		cal:         cal,
		timeSource:  ts,
		flags:       fl,
		notifier:    n,
		screenshots: ss,
		logger:      logger,
		now:         time.Now,
	}
}

type alwaysPresent struct{}

func (alwaysPresent) Exists(context.Context, string) bool { return true }

// CanTransition reports whether the workflow allows from → to.
func CanTransition(from, to models.ProjectStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateInput is the caller-supplied state of a new project.
type CreateInput struct {
	Name              string
	Description       string
	RepoURL           string
	DemoURL           string
	HackatimeProjects []string
}

// Create starts a new project in the building state. One project per user
// per event week; the extra_week flag defaults the time override to 14 days
// for catch-up work.
func (s *Service) Create(ctx context.Context, user *models.User, in CreateInput) (*models.Project, error) {
	if !s.cal.Configured() {
		return nil, ErrCalendarUnconfigured
	}
	if user.Banned() {
		return nil, errors.New("lifecycle: banned users cannot create projects")
	}
	if in.Name == "" {
		return nil, errors.New("lifecycle: project name is required")
	}

	now := s.now().UTC()
	week := s.cal.WeekNumber(now)
	start, end, ok := s.cal.WeekBounds(week)
	if !ok {
		return nil, ErrCalendarUnconfigured
	}

	project := models.Project{
		ID:                 uuid.New(),
		UserID:             user.ID,
		Name:               in.Name,
		Description:        in.Description,
		Status:             models.StatusBuilding,
		FraudStatus:        models.FraudUnchecked,
		RepoURL:            in.RepoURL,
		DemoURL:            in.DemoURL,
		HackatimeProjects:  in.HackatimeProjects,
		ReviewerMultiplier: 2,
		Logs:               models.TransitionLog{},
		CreatedAt:          now,
	}
	if s.flags.Enabled(ctx, flags.ExtraWeek, user.SlackID) {
		days := 14
		project.TimeOverrideDays = &days
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The user row lock serializes creations for one user, so the
		// one-project-per-week count cannot race a concurrent insert.
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&owner, "id = ?", user.ID).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.Project{}).
			Where("user_id = ? AND created_at >= ? AND created_at < ?", user.ID, start, end).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrWeeklyProjectExists
		}
		return tx.Create(&project).Error
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Transition moves a project to target under a row lock, recording the move
// in the transition log. Entering pending_voting notifies the owner; any
// notification failure stays inside the notifier.
func (s *Service) Transition(ctx context.Context, projectID uuid.UUID, target models.ProjectStatus, reviewerID uuid.UUID, message string) (*models.Project, error) {
	var project models.Project
	var owner models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&project, "id = ?", projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
		if !CanTransition(project.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, project.Status, target)
		}
		entry := models.TransitionEntry{
			Timestamp:  s.now().UTC(),
			OldStatus:  project.Status,
			NewStatus:  target,
			ReviewerID: reviewerID,
			Message:    message,
		}
		project.Logs = append(project.Logs, entry)
		project.Status = target
		if err := tx.Model(&models.Project{}).Where("id = ?", project.ID).
			Updates(map[string]interface{}{"status": project.Status, "logs": project.Logs}).Error; err != nil {
			return err
		}
		if target == models.StatusPendingVoting {
			return tx.First(&owner, "id = ?", project.UserID).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if target == models.StatusPendingVoting {
		s.notifier.ProjectReadyForVoting(ctx, owner.SlackID, project.Name)
	}
	return &project, nil
}

// EffectiveRange resolves the project's measurement window.
func (s *Service) EffectiveRange(project *models.Project) (string, string, bool) {
	return s.cal.EffectiveRange(project.CreatedAt, project.TimeOverrideDays)
}

// TrackedSeconds measures the owner's selected activities over the
// project's effective window. An unresolvable window measures as zero.
func (s *Service) TrackedSeconds(ctx context.Context, owner *models.User, project *models.Project) int64 {
	start, end, ok := s.EffectiveRange(project)
	if !ok {
		return 0
	}
	return s.timeSource.TotalSeconds(ctx, owner.SlackID, project.HackatimeProjects, start, end)
}
