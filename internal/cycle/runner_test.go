package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"ouroboros/internal/config"
	"ouroboros/internal/reasoner"
	"ouroboros/internal/selfmodel"
	"ouroboros/internal/types"
)

type execFunc func(ctx context.Context, action string, params map[string]interface{}) (string, error)

func (f execFunc) Invoke(ctx context.Context, action string, params map[string]interface{}) (string, error) {
	return f(ctx, action, params)
}

type verdictFunc func(ctx context.Context, planText string) (types.Verdict, error)

func (f verdictFunc) Verify(ctx context.Context, planText string) (types.Verdict, error) {
	return f(ctx, planText)
}

const fetchSummarizePlan = "fetch_data(url=https://example.com/report) -> raw json [0.9]\n" +
	"summarize(input=$fetch_data) -> summary text [0.8]"

func okExecutor() execFunc {
	return func(_ context.Context, action string, _ map[string]interface{}) (string, error) {
		return action + " done", nil
	}
}

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.Reasoner == nil {
		opts.Reasoner = reasoner.NewMock(fetchSummarizePlan)
	}
	if opts.Executor == nil {
		opts.Executor = okExecutor()
	}
	opts.Scheduler = config.Default().Scheduler
	opts.Cache = config.Default().Cache
	opts.Seed = 1
	r := New(opts)
	t.Cleanup(r.Close)
	return r
}

func TestRunCycleFetchThenSummarize(t *testing.T) {
	// Registered before the runner so it runs after the runner's cleanup.
	t.Cleanup(func() { goleak.VerifyNone(t) })

	var mu sync.Mutex
	var order []string
	exec := execFunc(func(_ context.Context, action string, params map[string]interface{}) (string, error) {
		mu.Lock()
		order = append(order, action)
		mu.Unlock()
		if action == "summarize" {
			if ref, _ := params["input"].(string); !strings.Contains(ref, "$fetch_data") {
				t.Errorf("summarize input = %v, want reference to fetch_data", params["input"])
			}
		}
		return action + " output", nil
	})

	r := newTestRunner(t, Options{Executor: exec})
	res, err := r.RunCycle(context.Background(), "summarize the report")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if !res.Success {
		t.Fatalf("cycle failed: %s", res.Errors)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	// Dependency forces fetch before summarize.
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "fetch_data" || order[1] != "summarize" {
		t.Fatalf("execution order = %v", order)
	}
	if res.Verdict != types.VerdictCertainTrue {
		t.Fatalf("verdict = %s", res.Verdict)
	}
	if res.CycleNumber != 1 {
		t.Fatalf("cycle number = %d, want 1", res.CycleNumber)
	}
}

func TestRunCyclePhaseRotation(t *testing.T) {
	r := newTestRunner(t, Options{})

	if got := r.Model().Phase(); got != selfmodel.PhasePlan {
		t.Fatalf("initial phase = %s", got)
	}
	if _, err := r.RunCycle(context.Background(), "goal"); err != nil {
		t.Fatal(err)
	}
	if got := r.Model().Phase(); got != selfmodel.PhasePlan {
		t.Fatalf("phase after cycle = %s, want %s", got, selfmodel.PhasePlan)
	}
	if r.Model().CycleCount() != 1 {
		t.Fatalf("cycle count = %d, want 1", r.Model().CycleCount())
	}
}

func TestRunCycleEmptyGoal(t *testing.T) {
	r := newTestRunner(t, Options{})

	res, err := r.RunCycle(context.Background(), "  ")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if res.Success {
		t.Fatal("empty goal cycle reported success")
	}
	// The rotation still completed.
	if got := r.Model().Phase(); got != selfmodel.PhasePlan {
		t.Fatalf("phase = %s, want %s", got, selfmodel.PhasePlan)
	}
	if r.Model().CycleCount() != 1 {
		t.Fatalf("cycle count = %d, want 1", r.Model().CycleCount())
	}
}

func TestRunCycleReasonerFailure(t *testing.T) {
	mock := reasoner.NewMock()
	mock.Fail(errors.New("quota exhausted"))
	r := newTestRunner(t, Options{Reasoner: mock})

	res, err := r.RunCycle(context.Background(), "goal")
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Success || res.Plan != nil {
		t.Fatalf("result = %+v", res)
	}
	if got := r.Model().Phase(); got != selfmodel.PhasePlan {
		t.Fatalf("phase = %s after reasoner failure", got)
	}
}

func TestRunCycleStepFailureMeansCycleFailure(t *testing.T) {
	exec := execFunc(func(_ context.Context, action string, _ map[string]interface{}) (string, error) {
		if action == "fetch_data" {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})
	r := newTestRunner(t, Options{Executor: exec})

	res, err := r.RunCycle(context.Background(), "goal")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Success {
		t.Fatal("cycle succeeded despite failed step")
	}
	if !strings.Contains(res.Errors, "connection refused") {
		t.Fatalf("errors = %q", res.Errors)
	}
	// No skip-on-failure: the dependent step still ran.
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
}

func TestRunCyclePolicyRejection(t *testing.T) {
	rejectAll := verdictFunc(func(context.Context, string) (types.Verdict, error) {
		return types.VerdictCertainFalse, nil
	})
	r := newTestRunner(t, Options{Verifier: rejectAll})

	res, err := r.RunCycle(context.Background(), "goal")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("cycle succeeded despite policy rejection")
	}
	if res.Verdict != types.VerdictCertainFalse {
		t.Fatalf("verdict = %s", res.Verdict)
	}
	if !strings.Contains(res.Errors, "policy violation") {
		t.Fatalf("errors = %q", res.Errors)
	}
}

func TestRunCycleVerifierErrorIsUncertain(t *testing.T) {
	flaky := verdictFunc(func(context.Context, string) (types.Verdict, error) {
		return "", errors.New("policy engine down")
	})
	r := newTestRunner(t, Options{Verifier: flaky})

	res, err := r.RunCycle(context.Background(), "goal")
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != types.VerdictUncertain {
		t.Fatalf("verdict = %s, want %s", res.Verdict, types.VerdictUncertain)
	}
	// Uncertain does not fail an otherwise successful cycle.
	if !res.Success {
		t.Fatalf("cycle failed: %s", res.Errors)
	}
}

func TestRunCyclePlanCacheHit(t *testing.T) {
	mock := reasoner.NewMock(fetchSummarizePlan)
	r := newTestRunner(t, Options{Reasoner: mock})

	for i := 0; i < 2; i++ {
		if _, err := r.RunCycle(context.Background(), "same goal"); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	// Two experiences stay below the evolution minimum, so genes and cache
	// key are unchanged and the second plan comes from cache.
	if mock.Calls() != 1 {
		t.Fatalf("reasoner calls = %d, want 1", mock.Calls())
	}
	if stats := r.CacheStats(); stats.Hits != 1 {
		t.Fatalf("cache hits = %d, want 1", stats.Hits)
	}
}

func TestRunCycleRecordsExperience(t *testing.T) {
	r := newTestRunner(t, Options{})

	if _, err := r.RunCycle(context.Background(), "goal"); err != nil {
		t.Fatal(err)
	}
	exps := r.Model().Experiences()
	if len(exps) != 1 {
		t.Fatalf("experiences = %d, want 1", len(exps))
	}
	if exps[0].QualityScore != 1.0 {
		t.Fatalf("quality = %v, want 1.0", exps[0].QualityScore)
	}
	if r.Model().SuccessRate() != 1.0 {
		t.Fatalf("success rate = %v", r.Model().SuccessRate())
	}
}

type captureStore struct {
	mu   sync.Mutex
	exps []types.Experience
}

func (s *captureStore) Store(_ context.Context, exp types.Experience) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exps = append(s.exps, exp)
	return nil
}

func TestRunCyclePersistsExperience(t *testing.T) {
	store := &captureStore{}
	r := newTestRunner(t, Options{Store: store})

	if _, err := r.RunCycle(context.Background(), "goal"); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.exps) != 1 || store.exps[0].Goal != "goal" {
		t.Fatalf("stored = %+v", store.exps)
	}
}

func TestRunCycleSafetyDenial(t *testing.T) {
	plan := "echo(msg=hello)\nshutdown(target=disable safety checks)"
	r := newTestRunner(t, Options{Reasoner: reasoner.NewMock(plan)})

	res, err := r.RunCycle(context.Background(), "goal")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("cycle succeeded despite denied step")
	}
	var denied *types.StepResult
	for i := range res.Results {
		if res.Results[i].Step.Action == "shutdown" {
			denied = &res.Results[i]
		}
	}
	if denied == nil || denied.Success {
		t.Fatalf("denied step result = %+v", denied)
	}
	if risk, _ := denied.Observed["risk_score"].(float64); risk != 1.0 {
		t.Fatalf("risk score = %v, want 1.0", risk)
	}
}

func TestRenderPlanRoundTrips(t *testing.T) {
	plan := &types.Plan{
		Goal: "g",
		Steps: []types.PlanStep{
			{Action: "fetch_data", Params: map[string]interface{}{"url": "https://example.com"}, Expected: "raw json", Confidence: 0.9},
			{Action: "summarize", Params: map[string]interface{}{"input": "$fetch_data"}, Confidence: 0.8},
		},
	}
	text := RenderPlan(plan)
	if !strings.Contains(text, "fetch_data(") || !strings.Contains(text, "[0.90]") {
		t.Fatalf("rendered plan:\n%s", text)
	}
	if !strings.Contains(text, "-> raw json") {
		t.Fatalf("expected outcome missing:\n%s", text)
	}
}

func TestNewPanicsWithoutRequiredCollaborators(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New accepted missing reasoner")
		}
	}()
	New(Options{Executor: okExecutor()})
}
