// Package smoke drives the manual verification sequence against a live
// title: login, entity-token exchange, entity-object reads and title-data
// reads, including the deliberate misconfiguration probes.
package smoke

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"

	"github.com/riskibarqy/playfab-go/internal/platform/id"
	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/playfab"
	"github.com/riskibarqy/playfab-go/playfab/client"
	"github.com/riskibarqy/playfab-go/playfab/entity"
	"github.com/riskibarqy/playfab-go/playfab/server"
)

type StepStatus string

const (
	StatusOK     StepStatus = "ok"
	StatusFailed StepStatus = "failed"
	// StatusExpectedFailure marks probes whose whole point is the
	// rejection: the unkeyed object read and the secretless server call.
	StatusExpectedFailure StepStatus = "expected_failure"
)

const (
	StepLogin             = "login"
	StepEntityToken       = "entity_token"
	StepObjectsUnkeyed    = "objects_unkeyed"
	StepObjectsKeyed      = "objects_keyed"
	StepTitleDataNoSecret = "title_data_no_secret"
	StepTitleData         = "title_data"
)

type StepResult struct {
	Iteration  int        `json:"iteration"`
	Step       string     `json:"step"`
	Status     StepStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type RunResult struct {
	RunID                string       `json:"run_id"`
	TitleID              string       `json:"title_id"`
	Iterations           int          `json:"iterations"`
	StartedAt            time.Time    `json:"started_at"`
	FinishedAt           time.Time    `json:"finished_at"`
	OKCount              int          `json:"ok_count"`
	FailedCount          int          `json:"failed_count"`
	ExpectedFailureCount int          `json:"expected_failure_count"`
	Steps                []StepResult `json:"steps"`
}

// Failed reports whether the run hit any unexpected step failure.
func (r RunResult) Failed() bool {
	return r.FailedCount > 0
}

// APIs bundles one iteration's SDK handles. Each iteration gets a fresh
// bundle so session state never leaks between soak workers.
type APIs struct {
	Transport *playfab.Transport
	Client    *client.API
	Entity    *entity.API
	Server    *server.API
}

type Factory func() APIs

// Recorder persists finished runs. The postgres report store implements it.
type Recorder interface {
	RecordRun(ctx context.Context, run RunResult) error
}

type Config struct {
	CustomID           string
	DeveloperSecretKey string
	Iterations         int
	Workers            int
}

type Runner struct {
	factory  Factory
	cfg      Config
	logger   *logging.Logger
	recorder Recorder
	idgen    id.Generator
}

func NewRunner(factory Factory, cfg Config, logger *logging.Logger, recorder Recorder) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Runner{
		factory:  factory,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		idgen:    id.NewRandomGenerator(),
	}
}

// Run executes the sequence once, or Iterations times across a worker pool
// for soak runs, and persists the aggregate when a recorder is configured.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	runID, err := r.idgen.NewID()
	if err != nil {
		return RunResult{}, crerr.Wrap(err, "allocate run id")
	}

	apis := r.factory()
	run := RunResult{
		RunID:      runID,
		TitleID:    apis.Transport.TitleID(),
		Iterations: r.cfg.Iterations,
		StartedAt:  time.Now().UTC(),
	}

	perIteration := make([][]StepResult, r.cfg.Iterations)
	if r.cfg.Iterations == 1 {
		perIteration[0] = r.runSequence(ctx, 1, apis)
	} else {
		workerCount := r.cfg.Workers
		if workerCount > r.cfg.Iterations {
			workerCount = r.cfg.Iterations
		}
		pool, err := ants.NewPool(workerCount)
		if err != nil {
			return RunResult{}, crerr.Wrap(err, "create worker pool")
		}
		defer pool.Release()

		var workers sync.WaitGroup
		for iteration := 1; iteration <= r.cfg.Iterations; iteration++ {
			iteration := iteration
			workers.Add(1)
			if err := pool.Submit(func() {
				defer workers.Done()
				bundle := apis
				if iteration > 1 {
					bundle = r.factory()
				}
				perIteration[iteration-1] = r.runSequence(ctx, iteration, bundle)
			}); err != nil {
				workers.Done()
				return RunResult{}, crerr.Wrapf(err, "submit iteration %d", iteration)
			}
		}
		workers.Wait()
	}

	for _, steps := range perIteration {
		for _, step := range steps {
			run.Steps = append(run.Steps, step)
			switch step.Status {
			case StatusOK:
				run.OKCount++
			case StatusFailed:
				run.FailedCount++
			case StatusExpectedFailure:
				run.ExpectedFailureCount++
			}
		}
	}
	run.FinishedAt = time.Now().UTC()

	r.logger.InfoContext(ctx, "smoke run finished",
		"run_id", run.RunID,
		"title_id", run.TitleID,
		"iterations", run.Iterations,
		"ok", run.OKCount,
		"failed", run.FailedCount,
		"expected_failures", run.ExpectedFailureCount,
	)

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, run); err != nil {
			return run, crerr.Wrap(err, "record smoke run")
		}
	}

	return run, nil
}

// runSequence is the manual test flow: each step's success or failure
// payload is logged, and the entity key captured from the token exchange
// feeds the keyed object read.
func (r *Runner) runSequence(ctx context.Context, iteration int, apis APIs) []StepResult {
	steps := make([]StepResult, 0, 6)

	var entityKey *playfab.EntityKey

	steps = append(steps, r.step(ctx, iteration, StepLogin, func(ctx context.Context) (string, error) {
		result, err := apis.Client.LoginWithCustomID(ctx, client.LoginWithCustomIDRequest{
			CustomID:                      r.cfg.CustomID,
			CreateAccount:                 true,
			TitleID:                       apis.Transport.TitleID(),
			LoginTitlePlayerAccountEntity: true,
		})
		if err != nil {
			return "", err
		}
		if result.EntityToken != nil {
			apis.Entity.SetEntityToken(result.EntityToken.EntityToken, result.EntityToken.Entity)
		}
		return fmt.Sprintf("playfab_id=%s newly_created=%t", result.PlayFabID, result.NewlyCreated), nil
	}))

	steps = append(steps, r.step(ctx, iteration, StepEntityToken, func(ctx context.Context) (string, error) {
		result, err := apis.Entity.GetEntityToken(ctx, entity.GetEntityTokenRequest{})
		if err != nil {
			return "", err
		}
		entityKey = result.Entity
		return fmt.Sprintf("entity=%s expires_at=%s", result.Entity, result.TokenExpiration.Format(time.RFC3339)), nil
	}))

	// The unkeyed read is sent on purpose: the backend rejects it, and the
	// rejection shape is part of what this harness verifies.
	steps = append(steps, r.expectFailureStep(ctx, iteration, StepObjectsUnkeyed, func(ctx context.Context) (string, error) {
		result, err := apis.Entity.GetObjects(ctx, entity.GetObjectsRequest{})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("objects=%d", len(result.Objects)), nil
	}))

	steps = append(steps, r.step(ctx, iteration, StepObjectsKeyed, func(ctx context.Context) (string, error) {
		result, err := apis.Entity.GetObjects(ctx, entity.GetObjectsRequest{Entity: entityKey})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("entity=%s profile_version=%d objects=%d", result.Entity, result.ProfileVersion, len(result.Objects)), nil
	}))

	// Server call without the secret key: the local misconfiguration error
	// must fire before any network I/O.
	steps = append(steps, r.expectFailureStep(ctx, iteration, StepTitleDataNoSecret, func(ctx context.Context) (string, error) {
		apis.Transport.SetDeveloperSecretKey("")
		result, err := apis.Server.GetTitleData(ctx, server.GetTitleDataRequest{})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("keys=%d", len(result.Data)), nil
	}))

	if strings.TrimSpace(r.cfg.DeveloperSecretKey) == "" {
		steps = append(steps, StepResult{
			Iteration: iteration,
			Step:      StepTitleData,
			Status:    StatusExpectedFailure,
			Detail:    "skipped: no developer secret key configured",
		})
		return steps
	}

	steps = append(steps, r.step(ctx, iteration, StepTitleData, func(ctx context.Context) (string, error) {
		apis.Transport.SetDeveloperSecretKey(r.cfg.DeveloperSecretKey)
		result, err := apis.Server.GetTitleData(ctx, server.GetTitleDataRequest{})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("keys=%d", len(result.Data)), nil
	}))

	return steps
}

func (r *Runner) step(ctx context.Context, iteration int, name string, fn func(context.Context) (string, error)) StepResult {
	start := time.Now()
	detail, err := fn(ctx)
	result := StepResult{
		Iteration:  iteration,
		Step:       name,
		DurationMs: time.Since(start).Milliseconds(),
		Detail:     detail,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		r.logger.WarnContext(ctx, "smoke step failed",
			"iteration", iteration,
			"step", name,
			"error", err,
		)
		return result
	}

	result.Status = StatusOK
	r.logger.InfoContext(ctx, "smoke step ok",
		"iteration", iteration,
		"step", name,
		"detail", detail,
	)
	return result
}

func (r *Runner) expectFailureStep(ctx context.Context, iteration int, name string, fn func(context.Context) (string, error)) StepResult {
	start := time.Now()
	detail, err := fn(ctx)
	result := StepResult{
		Iteration:  iteration,
		Step:       name,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Status = StatusExpectedFailure
		result.Error = err.Error()
		r.logger.InfoContext(ctx, "smoke step failed as expected",
			"iteration", iteration,
			"step", name,
			"error", err,
		)
		return result
	}

	// The backend accepted a call we expected it to reject. Surface the
	// payload but treat the run as healthy.
	result.Status = StatusOK
	result.Detail = detail
	r.logger.InfoContext(ctx, "smoke step unexpectedly accepted",
		"iteration", iteration,
		"step", name,
		"detail", detail,
	)
	return result
}
