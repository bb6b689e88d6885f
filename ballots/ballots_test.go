package ballots

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/flags"
	"github.com/hackclub/siege/models"
)

// Monday of event week 2 with a 2025-08-04 start.
var votingMonday = time.Date(2025, 8, 11, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newEngine(t *testing.T, db *gorm.DB, fl flags.Checker, at time.Time) *Engine {
	t.Helper()
	cal, err := calendar.New("2025-08-04")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if fl == nil {
		fl = flags.NewStatic(nil)
	}
	e := New(db, cal, fl, nil)
	e.now = func() time.Time { return at }
	e.rng = rand.New(rand.NewSource(1))
	return e
}

func seedUser(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	user := models.User{
		ID:      uuid.New(),
		SlackID: "U" + uuid.NewString()[:8],
		Rank:    models.RankUser,
		Status:  models.UserWorking,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedPendingProject(t *testing.T, db *gorm.DB, owner uuid.UUID, name string) models.Project {
	t.Helper()
	p := models.Project{
		ID:          uuid.New(),
		UserID:      owner,
		Name:        name,
		Status:      models.StatusPendingVoting,
		FraudStatus: models.FraudUnchecked,
		CreatedAt:   time.Date(2025, 8, 6, 10, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func seedCastVotes(t *testing.T, db *gorm.DB, projectID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		v := models.Vote{ID: uuid.New(), BallotID: uuid.New(), ProjectID: projectID, Week: 1, StarCount: 1, Voted: true}
		if err := db.Create(&v).Error; err != nil {
			t.Fatalf("seed vote: %v", err)
		}
	}
}

func TestAssignPicksLeastVotedProjects(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)

	counts := []int{0, 0, 1, 2, 3}
	projects := make([]models.Project, len(counts))
	for i, c := range counts {
		owner := seedUser(t, db)
		projects[i] = seedPendingProject(t, db, owner.ID, "p")
		seedCastVotes(t, db, projects[i].ID, c)
	}
	mostVoted := projects[4].ID

	e := newEngine(t, db, nil, votingMonday)
	ballot, err := e.Assign(context.Background(), &voter)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ballot.Week != 1 {
		t.Fatalf("expected week 1 ballot, got %d", ballot.Week)
	}
	if len(ballot.Votes) != 4 {
		t.Fatalf("expected 4 votes, got %d", len(ballot.Votes))
	}
	for _, v := range ballot.Votes {
		if v.ProjectID == mostVoted {
			t.Fatal("most-voted project must be left out of a 4-slot ballot")
		}
		if v.StarCount != 1 || v.Voted {
			t.Fatalf("fresh vote must start at one star and uncast, got %+v", v)
		}
	}
}

func TestAssignExcludesOwnProject(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)

	own := seedPendingProject(t, db, voter.ID, "mine")
	for i := 0; i < 4; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "other")
	}

	e := newEngine(t, db, nil, votingMonday)
	ballot, err := e.Assign(context.Background(), &voter)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	for _, v := range ballot.Votes {
		if v.ProjectID == own.ID {
			t.Fatal("own project must never appear on a ballot")
		}
	}
}

func TestAssignFailsCleanlyWithSmallPool(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	for i := 0; i < 3; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "p")
	}

	e := newEngine(t, db, nil, votingMonday)
	_, err := e.Assign(context.Background(), &voter)
	if !errors.Is(err, ErrNotEnoughProjects) {
		t.Fatalf("expected ErrNotEnoughProjects, got %v", err)
	}

	var ballotCount, voteCount int64
	db.Model(&models.Ballot{}).Count(&ballotCount)
	db.Model(&models.Vote{}).Where("voted = ?", false).Count(&voteCount)
	if ballotCount != 0 || voteCount != 0 {
		t.Fatalf("failed assignment must write nothing, got %d ballots %d votes", ballotCount, voteCount)
	}
}

func TestAssignRespectsVotingDays(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	thursday := time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)

	e := newEngine(t, db, nil, thursday)
	if _, err := e.Assign(context.Background(), &voter); !errors.Is(err, ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed on Thursday, got %v", err)
	}

	fl := flags.NewStatic(map[string]bool{flags.VotingAnyDay: true})
	for i := 0; i < 4; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "p")
	}
	e = newEngine(t, db, fl, thursday)
	if _, err := e.Assign(context.Background(), &voter); err != nil {
		t.Fatalf("voting_any_day must open Thursday, got %v", err)
	}
}

func TestAssignOneBallotPerWeek(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	for i := 0; i < 5; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "p")
	}

	e := newEngine(t, db, nil, votingMonday)
	ctx := context.Background()
	if _, err := e.Assign(ctx, &voter); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := e.Assign(ctx, &voter); !errors.Is(err, ErrBallotExists) {
		t.Fatalf("expected ErrBallotExists, got %v", err)
	}
}

func TestAssignConcurrentRequestsYieldOneBallot(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	for i := 0; i < 5; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "p")
	}
	// In-memory sqlite scopes each connection to its own database; a single
	// connection keeps every goroutine on the shared schema.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	e := newEngine(t, db, nil, votingMonday)
	ctx := context.Background()

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Assign(ctx, &voter)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var assigned int
	for err := range results {
		if err == nil {
			assigned++
		} else if !errors.Is(err, ErrBallotExists) {
			t.Fatalf("unexpected assign error: %v", err)
		}
	}
	if assigned != 1 {
		t.Fatalf("expected exactly one assignment to win, got %d", assigned)
	}
	var count int64
	db.Model(&models.Ballot{}).Where("user_id = ?", voter.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one ballot row, got %d", count)
	}
}

func TestAssignHidesHiddenProjects(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	for i := 0; i < 4; i++ {
		owner := seedUser(t, db)
		p := seedPendingProject(t, db, owner.ID, "hidden")
		db.Model(&models.Project{}).Where("id = ?", p.ID).Update("hidden", true)
	}

	e := newEngine(t, db, nil, votingMonday)
	if _, err := e.Assign(context.Background(), &voter); !errors.Is(err, ErrNotEnoughProjects) {
		t.Fatalf("hidden projects must not fill a ballot, got %v", err)
	}

	// A super_admin sees the full pool.
	admin := seedUser(t, db)
	admin.Rank = models.RankSuperAdmin
	db.Model(&models.User{}).Where("id = ?", admin.ID).Update("rank", models.RankSuperAdmin)
	if _, err := e.Assign(context.Background(), &admin); err != nil {
		t.Fatalf("super_admin assign: %v", err)
	}
}

func TestSubmitMarksVotesAndPaysOnce(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	for i := 0; i < 4; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "p")
	}

	e := newEngine(t, db, nil, votingMonday)
	ctx := context.Background()
	ballot, err := e.Assign(ctx, &voter)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	stars := map[uuid.UUID]int{
		ballot.Votes[0].ID: 5,
		ballot.Votes[1].ID: 3,
	}
	submitted, err := e.Submit(ctx, &voter, ballot.ID, "solid builds this week", stars)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !submitted.Voted {
		t.Fatal("ballot must be marked voted")
	}

	var votes []models.Vote
	db.Find(&votes, "ballot_id = ?", ballot.ID)
	for _, v := range votes {
		if !v.Voted {
			t.Fatalf("vote %s must be cast", v.ID)
		}
	}

	var user models.User
	db.First(&user, "id = ?", voter.ID)
	if user.Coins != 3 {
		t.Fatalf("expected 3 coins after submission, got %d", user.Coins)
	}

	// A second submission is refused and never pays again.
	if _, err := e.Submit(ctx, &voter, ballot.ID, "again", nil); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	db.First(&user, "id = ?", voter.ID)
	if user.Coins != 3 {
		t.Fatalf("retry must not pay twice, got %d coins", user.Coins)
	}
}

func TestSubmitValidation(t *testing.T) {
	db := openTestDB(t)
	voter := seedUser(t, db)
	other := seedUser(t, db)
	for i := 0; i < 4; i++ {
		owner := seedUser(t, db)
		seedPendingProject(t, db, owner.ID, "p")
	}

	e := newEngine(t, db, nil, votingMonday)
	ctx := context.Background()
	ballot, err := e.Assign(ctx, &voter)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := e.Submit(ctx, &voter, ballot.ID, "", nil); !errors.Is(err, ErrReasoningRequired) {
		t.Fatalf("expected ErrReasoningRequired, got %v", err)
	}
	if _, err := e.Submit(ctx, &voter, ballot.ID, "r", map[uuid.UUID]int{ballot.Votes[0].ID: 6}); !errors.Is(err, ErrInvalidStars) {
		t.Fatalf("expected ErrInvalidStars, got %v", err)
	}
	if _, err := e.Submit(ctx, &other, ballot.ID, "r", nil); !errors.Is(err, ErrNotBallotOwner) {
		t.Fatalf("expected ErrNotBallotOwner, got %v", err)
	}
	if _, err := e.Submit(ctx, &voter, uuid.New(), "r", nil); !errors.Is(err, ErrBallotNotFound) {
		t.Fatalf("expected ErrBallotNotFound, got %v", err)
	}
}

func TestCastScoreAveragesCastVotesOnly(t *testing.T) {
	db := openTestDB(t)
	owner := seedUser(t, db)
	p := seedPendingProject(t, db, owner.ID, "scored")

	cast := []int{5, 3}
	for _, s := range cast {
		v := models.Vote{ID: uuid.New(), BallotID: uuid.New(), ProjectID: p.ID, StarCount: s, Voted: true}
		db.Create(&v)
	}
	// An uncast vote must not drag the average down.
	db.Create(&models.Vote{ID: uuid.New(), BallotID: uuid.New(), ProjectID: p.ID, StarCount: 1, Voted: false})

	e := newEngine(t, db, nil, votingMonday)
	score, err := e.CastScore(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("cast score: %v", err)
	}
	if score != 4 {
		t.Fatalf("expected average 4, got %v", score)
	}
}
