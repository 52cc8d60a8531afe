package webhook

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-github/v63/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanutp/foxbuild/internal/checkout"
	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/engine"
	"github.com/vanutp/foxbuild/internal/ghapp"
	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/profilecache"
	"github.com/vanutp/foxbuild/pkg/logger"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, spec process.Spec) (*process.Result, error) {
	return &process.Result{ExitCode: 0}, nil
}

func testHandler(t *testing.T) *Handler {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dataDir := t.TempDir()
	cfg := &config.Config{RunsDir: dataDir}
	deps := &engine.Deps{
		Config:       cfg,
		Runner:       noopRunner{},
		Checkout:     checkout.New(dataDir, noopRunner{}),
		ProfileCache: profilecache.New(dataDir, dataDir, noopRunner{}),
		Logger:       logger.Default(),
	}
	app := ghapp.New(999, key)
	return NewHandler(app, 999, deps, cfg, logger.Default())
}

func TestServeHTTP_IgnoresUnrelatedEventType(t *testing.T) {
	h := testHandler(t)
	body, err := json.Marshal(&github.PushEvent{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServeHTTP_IgnoresCheckRunForDifferentApp(t *testing.T) {
	h := testHandler(t)
	payload := &github.CheckRunEvent{
		Action: github.String("created"),
		CheckRun: &github.CheckRun{
			App: &github.App{ID: github.Int64(1)},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "check_run")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServeHTTP_MalformedPayloadReturnsBadRequest(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	req.Header.Set("X-GitHub-Event", "check_suite")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckSuiteFromCheckRun_CarriesRepoInstallationAndHeadSHA(t *testing.T) {
	e := &github.CheckRunEvent{
		Repo:         &github.Repository{Name: github.String("widgets")},
		Installation: &github.Installation{ID: github.Int64(7)},
		CheckRun:     &github.CheckRun{HeadSHA: github.String("deadbeef")},
	}
	suite := checkSuiteFromCheckRun(e)
	assert.Equal(t, "widgets", suite.GetRepo().GetName())
	assert.Equal(t, int64(7), suite.GetInstallation().GetID())
	assert.Equal(t, "deadbeef", suite.GetCheckSuite().GetHeadSHA())
}

func TestRenderRunResult_AllStagesSucceed(t *testing.T) {
	result := &engine.RunResult{
		Workflows: map[string]*engine.WorkflowResult{
			"ci": {Stages: map[string]*engine.StageResult{
				"build": {ExitCode: 0, Stdout: "ok"},
			}},
		},
	}
	text, conclusion := renderRunResult(result)
	assert.Equal(t, "success", conclusion)
	assert.Contains(t, text, "ci / build")
	assert.Contains(t, text, "ok")
}

func TestRenderRunResult_NonzeroExitMarksFailure(t *testing.T) {
	result := &engine.RunResult{
		Workflows: map[string]*engine.WorkflowResult{
			"ci": {Stages: map[string]*engine.StageResult{
				"build": {ExitCode: 1, Stderr: "boom"},
			}},
		},
	}
	text, conclusion := renderRunResult(result)
	assert.Equal(t, "failure", conclusion)
	assert.Contains(t, text, "boom")
}

func TestRenderRunResult_AbortedWorkflowMarksFailure(t *testing.T) {
	result := &engine.RunResult{
		Workflows: map[string]*engine.WorkflowResult{
			"ci": nil,
		},
	}
	text, conclusion := renderRunResult(result)
	assert.Equal(t, "failure", conclusion)
	assert.Contains(t, text, "aborted")
}

func TestServer_HealthzRoute(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dataDir := t.TempDir()
	cfg := &config.Config{RunsDir: dataDir}
	deps := &engine.Deps{
		Config:       cfg,
		Runner:       noopRunner{},
		Checkout:     checkout.New(dataDir, noopRunner{}),
		ProfileCache: profilecache.New(dataDir, dataDir, noopRunner{}),
		Logger:       logger.Default(),
	}
	app := ghapp.New(999, key)
	srv := NewServer(cfg, deps, app, logger.Default())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
