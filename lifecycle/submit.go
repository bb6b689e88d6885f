package lifecycle

import (
	"context"
	"net/url"
	"strings"

	"github.com/hackclub/siege/flags"
	"github.com/hackclub/siege/models"
)

// requiredSeconds is ten hours of tracked time.
const requiredSeconds = 36000

// Refusal codes, checked in order. Earlier codes always win.
const (
	RefusalBanned           = "owner_banned"
	RefusalRepoMissing      = "repo_url_missing"
	RefusalRepoHost         = "repo_host_not_allowed"
	RefusalDemoMissing      = "demo_url_missing"
	RefusalScreenshot       = "screenshot_missing"
	RefusalNoActivities     = "no_activities_selected"
	RefusalInsufficientTime = "insufficient_tracked_time"
)

// Refusal explains one reason a project cannot be submitted.
type Refusal struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// allowedGitHosts restricts repository links to public forges.
var allowedGitHosts = map[string]struct{}{
	"github.com":       {},
	"gitlab.com":       {},
	"bitbucket.org":    {},
	"codeberg.org":     {},
	"sourceforge.net":  {},
	"dev.azure.com":    {},
	"git.hackclub.app": {},
}

// RepoHostAllowed reports whether the URL points at an accepted git host.
// A leading "www." on the host is ignored.
func RepoHostAllowed(repoURL string) bool {
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	_, ok := allowedGitHosts[host]
	return ok
}

// CanSubmit evaluates submission eligibility. Refusals come back in check
// order: standing first, then completeness, then tracked time. The time
// check is skipped for bypass_10_hour_requirement holders and during the
// preparation_phase.
func (s *Service) CanSubmit(ctx context.Context, owner *models.User, project *models.Project) []Refusal {
	if owner.Banned() {
		return []Refusal{{Code: RefusalBanned, Message: "banned users cannot submit projects"}}
	}

	var refusals []Refusal
	if strings.TrimSpace(project.RepoURL) == "" {
		refusals = append(refusals, Refusal{Code: RefusalRepoMissing, Message: "a repository link is required"})
	} else if !RepoHostAllowed(project.RepoURL) {
		refusals = append(refusals, Refusal{Code: RefusalRepoHost, Message: "repository must be hosted on an accepted git host"})
	}
	if strings.TrimSpace(project.DemoURL) == "" {
		refusals = append(refusals, Refusal{Code: RefusalDemoMissing, Message: "a playable demo link is required"})
	}
	if project.ScreenshotKey == "" || !s.screenshots.Exists(ctx, project.ScreenshotKey) {
		refusals = append(refusals, Refusal{Code: RefusalScreenshot, Message: "a screenshot is required"})
	}
	if len(project.HackatimeProjects) == 0 {
		refusals = append(refusals, Refusal{Code: RefusalNoActivities, Message: "link at least one tracked activity"})
	}
	if len(refusals) > 0 {
		return refusals
	}

	if s.flags.Enabled(ctx, flags.BypassHourRequirement, owner.SlackID) ||
		s.flags.Enabled(ctx, flags.PreparationPhase, "") {
		return nil
	}
	if s.TrackedSeconds(ctx, owner, project) < requiredSeconds {
		return []Refusal{{Code: RefusalInsufficientTime, Message: "at least ten tracked hours are required"}}
	}
	return nil
}

// Submit re-checks eligibility and moves the project from building to
// submitted. Eligibility refusals come back alongside a nil error so the
// HTTP layer can render them as a structured response.
func (s *Service) Submit(ctx context.Context, owner *models.User, project *models.Project) ([]Refusal, error) {
	if refusals := s.CanSubmit(ctx, owner, project); len(refusals) > 0 {
		return refusals, nil
	}
	_, err := s.Transition(ctx, project.ID, models.StatusSubmitted, owner.ID, "submitted by owner")
	return nil, err
}
