package smoke

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/playfab"
	"github.com/riskibarqy/playfab-go/playfab/client"
	"github.com/riskibarqy/playfab-go/playfab/entity"
	"github.com/riskibarqy/playfab-go/playfab/server"
)

// fakeBackend answers the full manual flow: login, token exchange, object
// reads and title data. Unkeyed object reads are rejected the way the real
// backend rejects them.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/Client/LoginWithCustomID":
			_, _ = w.Write([]byte(`{"code":200,"status":"OK","data":{"PlayFabId":"pf-1","SessionTicket":"ticket-1","NewlyCreated":false,"EntityToken":{"EntityToken":"etoken-1","Entity":{"Id":"e-1","Type":"title_player_account"}}}}`))
		case "/Authentication/GetEntityToken":
			if r.Header.Get("X-Authorization") == "" {
				t.Errorf("token exchange missing session ticket")
			}
			_, _ = w.Write([]byte(`{"code":200,"status":"OK","data":{"EntityToken":"etoken-2","Entity":{"Id":"e-1","Type":"title_player_account"}}}`))
		case "/Object/GetObjects":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"Entity"`) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":400,"status":"BadRequest","error":"InvalidParams","errorCode":1000,"errorMessage":"Entity is required"}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":200,"status":"OK","data":{"Entity":{"Id":"e-1","Type":"title_player_account"},"ProfileVersion":1,"Objects":{}}}`))
		case "/Server/GetTitleData":
			if r.Header.Get("X-SecretKey") == "" {
				t.Errorf("title data request reached the backend without a secret key")
			}
			_, _ = w.Write([]byte(`{"code":200,"status":"OK","data":{"Data":{"MOTD":"welcome"}}}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFactory(srv *httptest.Server) Factory {
	return func() APIs {
		transport := playfab.NewTransport(playfab.TransportConfig{
			Settings:   playfab.Settings{TitleID: "ABCDE", BaseURL: srv.URL},
			HTTPClient: srv.Client(),
			Logger:     logging.NewNop(),
		})
		clientAPI := client.New(transport, logging.NewNop())
		return APIs{
			Transport: transport,
			Client:    clientAPI,
			Entity: entity.New(entity.Config{
				Transport:  transport,
				AuthSource: clientAPI,
				Logger:     logging.NewNop(),
			}),
			Server: server.New(transport, logging.NewNop()),
		}
	}
}

type captureRecorder struct {
	runs []RunResult
}

func (c *captureRecorder) RecordRun(_ context.Context, run RunResult) error {
	c.runs = append(c.runs, run)
	return nil
}

func TestRunnerRun_FullSequenceWithSecretKey(t *testing.T) {
	t.Parallel()

	srv := fakeBackend(t)
	recorder := &captureRecorder{}
	runner := NewRunner(newFactory(srv), Config{
		CustomID:           "custom-1",
		DeveloperSecretKey: "server-secret",
	}, logging.NewNop(), recorder)

	run, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if run.RunID == "" {
		t.Fatal("expected a run id")
	}
	if run.TitleID != "ABCDE" {
		t.Fatalf("unexpected title id: %s", run.TitleID)
	}
	if run.Failed() {
		t.Fatalf("unexpected failures: %+v", run.Steps)
	}
	if len(run.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(run.Steps))
	}
	if run.OKCount != 4 {
		t.Fatalf("expected 4 ok steps, got %d", run.OKCount)
	}
	if run.ExpectedFailureCount != 2 {
		t.Fatalf("expected 2 expected failures, got %d", run.ExpectedFailureCount)
	}

	byStep := make(map[string]StepResult, len(run.Steps))
	for _, step := range run.Steps {
		byStep[step.Step] = step
	}
	if byStep[StepObjectsUnkeyed].Status != StatusExpectedFailure {
		t.Fatalf("unexpected unkeyed status: %s", byStep[StepObjectsUnkeyed].Status)
	}
	if !strings.Contains(byStep[StepObjectsUnkeyed].Error, "InvalidParams") {
		t.Fatalf("unexpected unkeyed error: %s", byStep[StepObjectsUnkeyed].Error)
	}
	if byStep[StepTitleDataNoSecret].Status != StatusExpectedFailure {
		t.Fatalf("unexpected no-secret status: %s", byStep[StepTitleDataNoSecret].Status)
	}
	if byStep[StepTitleData].Status != StatusOK {
		t.Fatalf("unexpected title data status: %s", byStep[StepTitleData].Status)
	}

	if len(recorder.runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(recorder.runs))
	}
	if recorder.runs[0].RunID != run.RunID {
		t.Fatalf("recorded run id mismatch: %s vs %s", recorder.runs[0].RunID, run.RunID)
	}
}

func TestRunnerRun_NoSecretKeySkipsFinalStep(t *testing.T) {
	t.Parallel()

	srv := fakeBackend(t)
	runner := NewRunner(newFactory(srv), Config{CustomID: "custom-1"}, logging.NewNop(), nil)

	run, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if run.Failed() {
		t.Fatalf("unexpected failures: %+v", run.Steps)
	}
	if run.OKCount != 3 {
		t.Fatalf("expected 3 ok steps, got %d", run.OKCount)
	}
	if run.ExpectedFailureCount != 3 {
		t.Fatalf("expected 3 expected failures, got %d", run.ExpectedFailureCount)
	}

	last := run.Steps[len(run.Steps)-1]
	if last.Step != StepTitleData || last.Status != StatusExpectedFailure {
		t.Fatalf("unexpected final step: %+v", last)
	}
	if !strings.Contains(last.Detail, "skipped") {
		t.Fatalf("unexpected final detail: %s", last.Detail)
	}
}

func TestRunnerRun_SoakIterations(t *testing.T) {
	t.Parallel()

	srv := fakeBackend(t)
	var factoryCalls atomic.Int32
	factory := newFactory(srv)
	countingFactory := func() APIs {
		factoryCalls.Add(1)
		return factory()
	}
	runner := NewRunner(countingFactory, Config{
		CustomID:           "custom-1",
		DeveloperSecretKey: "server-secret",
		Iterations:         3,
		Workers:            2,
	}, logging.NewNop(), nil)

	run, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if run.Failed() {
		t.Fatalf("unexpected failures: %+v", run.Steps)
	}
	if len(run.Steps) != 18 {
		t.Fatalf("expected 18 steps, got %d", len(run.Steps))
	}
	if run.OKCount != 12 {
		t.Fatalf("expected 12 ok steps, got %d", run.OKCount)
	}
	if run.ExpectedFailureCount != 6 {
		t.Fatalf("expected 6 expected failures, got %d", run.ExpectedFailureCount)
	}

	seen := make(map[int]bool)
	for _, step := range run.Steps {
		seen[step.Iteration] = true
	}
	for iteration := 1; iteration <= 3; iteration++ {
		if !seen[iteration] {
			t.Fatalf("missing steps for iteration %d", iteration)
		}
	}

	// One bundle per iteration: the bundle built for the run header is
	// reused by iteration one instead of being thrown away.
	if got := factoryCalls.Load(); got != 3 {
		t.Fatalf("expected 3 factory calls, got %d", got)
	}
}

func TestRunnerRun_StepFailureIsReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"status":"Unauthorized","error":"NotAuthenticated","errorCode":1074,"errorMessage":"bad title"}`))
	}))
	t.Cleanup(srv.Close)

	runner := NewRunner(newFactory(srv), Config{CustomID: "custom-1"}, logging.NewNop(), nil)

	run, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !run.Failed() {
		t.Fatal("expected the run to be marked failed")
	}
	if run.Steps[0].Step != StepLogin || run.Steps[0].Status != StatusFailed {
		t.Fatalf("unexpected first step: %+v", run.Steps[0])
	}
	if !strings.Contains(run.Steps[0].Error, "NotAuthenticated") {
		t.Fatalf("unexpected login error: %s", run.Steps[0].Error)
	}
}
