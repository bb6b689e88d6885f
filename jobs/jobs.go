// Package jobs runs the periodic maintenance work: the Thursday sweep that
// moves pending_voting projects into review, the daily event-wide hours
// snapshot, and the export sync to an external record store.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hackclub/siege/betting"
	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/lifecycle"
	"github.com/hackclub/siege/models"
)

// RecordStore receives user and project rows pushed by the export sync.
// Implementations talk to whatever external sheet or CRM the event uses;
// push failures are logged here and retried on the next run.
type RecordStore interface {
	UpsertUsers(ctx context.Context, users []models.User) error
	UpsertProjects(ctx context.Context, projects []models.Project) error
}

// Runner owns the background loops.
type Runner struct {
	db     *gorm.DB
	cal    *calendar.Calendar
	life   *lifecycle.Service
	bets   *betting.Engine
	store  RecordStore
	logger *slog.Logger
	now    func() time.Time
}

// Config wires a Runner.
type Config struct {
	DB        *gorm.DB
	Calendar  *calendar.Calendar
	Lifecycle *lifecycle.Service
	Betting   *betting.Engine
	Store     RecordStore
	Logger    *slog.Logger
}

// New builds a job runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:     cfg.DB,
		cal:    cfg.Calendar,
		life:   cfg.Lifecycle,
		bets:   cfg.Betting,
		store:  cfg.Store,
		logger: logger,
		now:    time.Now,
	}
}

// Start launches the loops until the context is cancelled. Each loop ticks
// on its own interval; a zero interval disables that loop.
func (r *Runner) Start(ctx context.Context, sweepEvery, snapshotEvery, exportEvery time.Duration) {
	if sweepEvery > 0 {
		go r.loop(ctx, "voting_sweep", sweepEvery, r.RunSweep)
	}
	if snapshotEvery > 0 {
		go r.loop(ctx, "hours_snapshot", snapshotEvery, r.RunSnapshot)
	}
	if exportEvery > 0 && r.store != nil {
		go r.loop(ctx, "export_sync", exportEvery, r.RunExport)
	}
}

func (r *Runner) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				r.logger.Error("job failed", slog.String("job", name), slog.String("error", err.Error()))
			}
		}
	}
}

// RunSweep moves every pending_voting project to waiting_for_review. It
// only acts on Thursdays, when the voting window has closed.
func (r *Runner) RunSweep(ctx context.Context) error {
	if r.now().UTC().Weekday() != time.Thursday {
		return nil
	}
	return r.sweepNow(ctx)
}

func (r *Runner) sweepNow(ctx context.Context) error {
	var projects []models.Project
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusPendingVoting).
		Find(&projects).Error; err != nil {
		return err
	}
	var swept int
	for i := range projects {
		// The nil reviewer marks a system transition, not a human review.
		if _, err := r.life.Transition(ctx, projects[i].ID, models.StatusWaitingForReview, uuid.Nil, "voting window closed"); err != nil {
			r.logger.Warn("sweep transition failed",
				slog.String("project_id", projects[i].ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		swept++
	}
	if swept > 0 {
		r.logger.Info("voting sweep complete", slog.Int("projects", swept))
	}
	return nil
}

// RunSnapshot records today's event-wide tracked hours for the current
// week, upserting the day's row so repeat runs refresh in place.
func (r *Runner) RunSnapshot(ctx context.Context) error {
	now := r.now().UTC()
	week := r.cal.WeekNumber(now)
	hours, err := r.bets.GlobalHours(ctx, week)
	if err != nil {
		return err
	}
	var users int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("status IN ?", []models.UserStatus{models.UserNew, models.UserWorking}).
		Count(&users).Error; err != nil {
		return err
	}

	date := now.Format(calendar.DateLayout)
	var day models.HackatimeDay
	err = r.db.WithContext(ctx).First(&day, "date = ?", date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		day = models.HackatimeDay{ID: uuid.New(), Date: date, TotalHours: hours, UserCount: int(users)}
		return r.db.WithContext(ctx).Create(&day).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.HackatimeDay{}).Where("id = ?", day.ID).
		Updates(map[string]interface{}{"total_hours": hours, "user_count": int(users)}).Error
}

// RunExport pushes all users and projects to the external record store.
func (r *Runner) RunExport(ctx context.Context) error {
	var users []models.User
	if err := r.db.WithContext(ctx).Find(&users).Error; err != nil {
		return err
	}
	if err := r.store.UpsertUsers(ctx, users); err != nil {
		return err
	}
	var projects []models.Project
	if err := r.db.WithContext(ctx).Find(&projects).Error; err != nil {
		return err
	}
	return r.store.UpsertProjects(ctx, projects)
}
