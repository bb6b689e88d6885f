package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hackclub/siege/ballots"
	"github.com/hackclub/siege/betting"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/lifecycle"
	"github.com/hackclub/siege/models"
	"github.com/hackclub/siege/shop"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           user.ID,
		"slack_id":     user.SlackID,
		"display_name": user.DisplayName,
		"rank":         user.Rank,
		"status":       user.Status,
		"coins":        user.Coins,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	// Only the most recent entries travel over the wire.
	logs := user.AuditLogs
	if len(logs) > 50 {
		logs = logs[len(logs)-50:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"coins":     user.Coins,
		"audit_log": logs,
	})
}

type registerRequest struct {
	SlackID     string `json:"slack_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Rank        string `json:"rank"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil || req.SlackID == "" {
		writeError(w, http.StatusBadRequest, "slack_id is required")
		return
	}
	rank := req.Rank
	if rank == "" {
		rank = models.RankUser
	}
	user := models.User{
		ID:          uuid.New(),
		SlackID:     req.SlackID,
		Email:       req.Email,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Rank:        rank,
		Status:      models.UserNew,
	}
	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return shop.ProvisionWeeks(tx, user.ID, s.eventWeeks)
	})
	if err != nil {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": user.ID, "slack_id": user.SlackID})
}

type createProjectRequest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	RepoURL           string   `json:"repo_url"`
	DemoURL           string   `json:"demo_url"`
	HackatimeProjects []string `json:"hackatime_projects"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	project, err := s.lifecycle.Create(r.Context(), user, lifecycle.CreateInput(req))
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrWeeklyProjectExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, lifecycle.ErrCalendarUnconfigured):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) loadProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return nil, false
	}
	var project models.Project
	if err := s.db.WithContext(r.Context()).First(&project, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	return &project, true
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	refusals := s.lifecycle.CanSubmit(r.Context(), user, project)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"eligible": len(refusals) == 0,
		"refusals": refusals,
	})
}

func (s *Server) handleSubmitProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if project.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not your project")
		return
	}
	refusals, err := s.lifecycle.Submit(r.Context(), user, project)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}
	if len(refusals) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"refusals": refusals})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusSubmitted)})
}

type transitionRequest struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	updated, err := s.lifecycle.Transition(r.Context(), project.ID, models.ProjectStatus(req.Status), user.ID, req.Message)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "transition failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(updated.Status)})
}

// handleFinish closes out a reviewed project: it computes the payout from
// tracked hours, the effective goal, and the average cast score, credits
// the owner keyed on the project id, and moves the project to finished.
// The credit lands before the transition so a crash between the two can be
// retried without paying twice.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	reviewer, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if project.Status != models.StatusWaitingForReview {
		writeError(w, http.StatusConflict, "project is not waiting for review")
		return
	}
	var owner models.User
	if err := s.db.WithContext(r.Context()).First(&owner, "id = ?", project.UserID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "owner lookup failed")
		return
	}

	week := s.cal.WeekNumber(project.CreatedAt)
	hours := float64(s.lifecycle.TrackedSeconds(r.Context(), &owner, project)) / 3600
	score, err := s.ballots.CastScore(r.Context(), project.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "score lookup failed")
		return
	}
	var uw models.UserWeek
	goal := float64(models.BaseHourGoal(week))
	if err := s.db.WithContext(r.Context()).
		First(&uw, "user_id = ? AND week = ?", owner.ID, week).Error; err == nil {
		goal = float64(uw.EffectiveHourGoal())
	}

	coins := ledger.ComputeReward(ledger.RewardInput{
		Week:       week,
		OwnerOut:   owner.Out(),
		Hours:      hours,
		GoalHours:  goal,
		VoteScore:  score,
		Multiplier: project.ReviewerMultiplier,
	})

	if coins > 0 {
		if _, err := s.ledger.Apply(r.Context(), ledger.Mutation{
			UserID:    owner.ID,
			Action:    "project_reward",
			ActorID:   reviewer.ID,
			SourceRef: "project:" + project.ID.String() + ":reward",
			Delta:     coins,
			Details:   map[string]string{"project": project.Name},
		}); err != nil {
			writeError(w, http.StatusInternalServerError, "reward failed")
			return
		}
	}
	if err := s.db.WithContext(r.Context()).Model(&models.Project{}).
		Where("id = ?", project.ID).Update("coin_value", coins).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	if _, err := s.lifecycle.Transition(r.Context(), project.ID, models.StatusFinished, reviewer.ID, "review complete"); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"coins": coins, "status": models.StatusFinished})
}

func (s *Server) handleAssignBallot(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	ballot, err := s.ballots.Assign(r.Context(), user)
	if err != nil {
		switch {
		case errors.Is(err, ballots.ErrNotEnoughProjects):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "not_enough_projects", "error": err.Error()})
		case errors.Is(err, ballots.ErrBallotExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ballots.ErrVotingClosed):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "voting_closed", "error": err.Error()})
		default:
			writeError(w, http.StatusInternalServerError, "assignment failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, ballot)
}

type submitBallotRequest struct {
	Reasoning string         `json:"reasoning"`
	Stars     map[string]int `json:"stars"`
}

func (s *Server) handleSubmitBallot(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	ballotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ballot id")
		return
	}
	var req submitBallotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	stars := make(map[uuid.UUID]int, len(req.Stars))
	for k, v := range req.Stars {
		id, err := uuid.Parse(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid vote id")
			return
		}
		stars[id] = v
	}
	ballot, err := s.ballots.Submit(r.Context(), user, ballotID, req.Reasoning, stars)
	if err != nil {
		switch {
		case errors.Is(err, ballots.ErrBallotNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ballots.ErrAlreadyVoted):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ballots.ErrReasoningRequired), errors.Is(err, ballots.ErrInvalidStars):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ballots.ErrNotBallotOwner):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, ballot)
}

type placeBetRequest struct {
	Stake          int64   `json:"stake"`
	Multiplier     float64 `json:"multiplier"`
	HoursGoal      float64 `json:"hours_goal"`
	PredictedHours float64 `json:"predicted_hours"`
}

func betError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, betting.ErrBettingDisabled), errors.Is(err, betting.ErrBettingClosed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, betting.ErrBetExists), errors.Is(err, betting.ErrAlreadyPaidOut):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, betting.ErrStakeOutOfRange), errors.Is(err, betting.ErrInvalidMultiplier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, betting.ErrGoalNotReached):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "goal_not_reached", "error": err.Error()})
	case errors.Is(err, betting.ErrBetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "insufficient_funds", "error": err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, "bet operation failed")
	}
}

func (s *Server) handlePlacePersonal(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	bet, err := s.betting.PlacePersonal(r.Context(), user, betting.PlaceInput{
		Stake: req.Stake, Multiplier: req.Multiplier, HoursGoal: req.HoursGoal,
	})
	if err != nil {
		betError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func (s *Server) handlePlaceGlobal(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	bet, err := s.betting.PlaceGlobal(r.Context(), user, betting.PlaceInput{
		Stake: req.Stake, Multiplier: req.Multiplier, PredictedHours: req.PredictedHours,
	})
	if err != nil {
		betError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func (s *Server) handleCollectPersonal(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	betID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}
	payout, err := s.betting.CollectPersonal(r.Context(), user, betID)
	if err != nil {
		betError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"payout": payout})
}

func (s *Server) handleCollectGlobal(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	betID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}
	payout, err := s.betting.CollectGlobal(r.Context(), user, betID)
	if err != nil {
		betError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"payout": payout})
}

func (s *Server) handleMercenaryPrice(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	price, count, err := s.shop.MercenaryPrice(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "price lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"price": price, "count": count})
}

func (s *Server) handleBuyMercenary(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	purchase, err := s.shop.BuyMercenary(r.Context(), user)
	if err != nil {
		switch {
		case errors.Is(err, shop.ErrMercenaryLimit):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "mercenary_limit", "error": err.Error()})
		case errors.Is(err, ledger.ErrInsufficientFunds):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "insufficient_funds", "error": err.Error()})
		default:
			writeError(w, http.StatusInternalServerError, "purchase failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

type adjustRequest struct {
	UserID string `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Server) handleAdminAdjust(w http.ResponseWriter, r *http.Request) {
	admin, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "user_id, delta and reason are required")
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	res, err := s.ledger.AdminAdjust(r.Context(), admin.ID, target, req.Delta, req.Reason)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "insufficient_funds", "error": err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, "adjustment failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": res.Balance})
}
