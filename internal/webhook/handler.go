// Package webhook serves the GitHub App webhook endpoint in standalone mode:
// it turns check_suite/check_run events into engine runs and reports their
// outcome back to GitHub as check-run updates.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v63/github"

	"github.com/vanutp/foxbuild/internal/checkout"
	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/engine"
	"github.com/vanutp/foxbuild/internal/foxfile"
	"github.com/vanutp/foxbuild/internal/ghapp"
	"github.com/vanutp/foxbuild/pkg/logger"
)

const checkName = "foxbuild"

// Handler dispatches GitHub webhook deliveries to engine runs.
type Handler struct {
	app    *ghapp.Client
	appID  int64
	deps   *engine.Deps
	cfg    *config.Config
	logger *logger.Logger
}

// NewHandler returns a Handler for the given app credentials and engine deps.
func NewHandler(app *ghapp.Client, appID int64, deps *engine.Deps, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{app: app, appID: appID, deps: deps, cfg: cfg, logger: log}
}

// ServeHTTP handles a single webhook delivery. Deliveries that don't concern
// foxbuild (any event but check_suite/check_run, or a check_run belonging to
// a different app) are acknowledged and otherwise ignored.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unrecognized webhook payload")
		return
	}

	switch e := event.(type) {
	case *github.CheckSuiteEvent:
		if action := e.GetAction(); action == "requested" || action == "rerequested" {
			h.handleCheckSuite(r.Context(), e)
		}
	case *github.CheckRunEvent:
		if e.GetCheckRun().GetApp().GetID() != h.appID {
			break
		}
		switch e.GetAction() {
		case "created":
			go h.handleCheckRunCreated(context.Background(), e)
		case "rerequested":
			h.handleCheckSuite(r.Context(), checkSuiteFromCheckRun(e))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func checkSuiteFromCheckRun(e *github.CheckRunEvent) *github.CheckSuiteEvent {
	return &github.CheckSuiteEvent{
		Repo:         e.Repo,
		Installation: e.Installation,
		CheckSuite: &github.CheckSuite{
			HeadSHA: e.CheckRun.HeadSHA,
		},
	}
}

func (h *Handler) handleCheckSuite(ctx context.Context, e *github.CheckSuiteEvent) {
	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	installationID := e.GetInstallation().GetID()

	gh, err := h.app.InstallationClient(ctx, installationID)
	if err != nil {
		h.logger.Error("getting installation client", "error", err, "repo", owner+"/"+repo)
		return
	}
	if _, err := ghapp.CreateCheckRun(ctx, gh, owner, repo, checkName, e.GetCheckSuite().GetHeadSHA()); err != nil {
		h.logger.Error("creating check run", "error", err, "repo", owner+"/"+repo)
	}
}

func (h *Handler) handleCheckRunCreated(ctx context.Context, e *github.CheckRunEvent) {
	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	fullName := e.GetRepo().GetFullName()
	checkRunID := e.GetCheckRun().GetID()
	headSHA := e.GetCheckRun().GetHeadSHA()
	installationID := e.GetInstallation().GetID()

	log := h.logger.WithRunID(fmt.Sprintf("%d", checkRunID))

	gh, err := h.app.InstallationClient(ctx, installationID)
	if err != nil {
		log.Error("getting installation client", "error", err)
		return
	}

	if err := ghapp.MarkInProgress(ctx, gh, owner, repo, checkRunID); err != nil {
		log.Error("marking check run in_progress", "error", err)
	}

	cloneURL := e.GetRepo().GetCloneURL()
	info := &engine.RunInfo{
		Provider:  "github",
		CloneURL:  cloneURL,
		RepoName:  fullName,
		CommitSHA: headSHA,
		RunID:     fmt.Sprintf("%d", checkRunID),
	}

	result, runErr := h.runCheckout(ctx, info)

	conclusion := "success"
	summary := "All workflows completed successfully."
	var text string
	if runErr != nil {
		conclusion = "failure"
		summary = "foxbuild failed: " + runErr.Error()
	} else {
		text, conclusion = renderRunResult(result)
		if conclusion == "failure" {
			summary = "One or more stages failed or were aborted."
		}
	}

	if err := ghapp.CompleteCheckRun(ctx, gh, owner, repo, checkRunID, conclusion, checkName, summary, text); err != nil {
		log.Error("completing check run", "error", err)
	}
}

// runCheckout checks the repository out into a fresh directory under RunsDir
// to load its Foxfile, then runs it with RunStandalone, which checks the
// commit out again into a separate workdir for each stage. The directory
// used to read the Foxfile is not removed afterwards.
func (h *Handler) runCheckout(ctx context.Context, info *engine.RunInfo) (*engine.RunResult, error) {
	tmpDir, err := tempCheckoutDir(h.cfg.RunsDir, info.RunID)
	if err != nil {
		return nil, err
	}

	if err := h.deps.Checkout.Run(ctx, checkout.Request{
		Provider:  info.Provider,
		RepoName:  info.RepoName,
		CloneURL:  info.CloneURL,
		CommitSHA: info.CommitSHA,
		Dest:      tmpDir,
	}); err != nil {
		return nil, err
	}

	ff, err := loadFoxfile(tmpDir)
	if err != nil {
		return nil, err
	}

	orch := engine.NewOrchestrator(h.deps)
	return orch.RunStandalone(ctx, info, ff)
}

func renderRunResult(result *engine.RunResult) (string, string) {
	var b strings.Builder
	ok := true
	for name, wf := range result.Workflows {
		if wf == nil {
			fmt.Fprintf(&b, "## %s\naborted\n\n", name)
			ok = false
			continue
		}
		for stageName, stage := range wf.Stages {
			if stage == nil {
				fmt.Fprintf(&b, "### %s / %s\naborted\n\n", name, stageName)
				ok = false
				continue
			}
			if stage.ExitCode != 0 {
				ok = false
			}
			fmt.Fprintf(&b, "### %s / %s (exit %d)\n```\n%s\n%s\n```\n\n", name, stageName, stage.ExitCode, stage.Stdout, stage.Stderr)
		}
	}
	conclusion := "success"
	if !ok {
		conclusion = "failure"
	}
	return b.String(), conclusion
}

func loadFoxfile(repoRoot string) (*foxfile.Foxfile, error) {
	data, err := readFoxfile(repoRoot)
	if err != nil {
		return nil, err
	}
	return foxfile.Parse(data)
}
