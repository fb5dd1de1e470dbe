package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/pipeline"
	"github.com/strrl/viralscope/internal/signals"
	"github.com/strrl/viralscope/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var srvNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	trends    []signals.TrendRecord
	pairs     []signals.OutcomePair
	latest    *signals.PlattParameters
	err       error
	gotPhase  signals.Phase
	gotLimit  int
	gotWindow [2]time.Time
}

func (f *fakeReader) ListTrends(_ context.Context, phase signals.Phase, limit int) ([]signals.TrendRecord, error) {
	f.gotPhase, f.gotLimit = phase, limit
	return f.trends, f.err
}

func (f *fakeReader) FetchOutcomePairs(_ context.Context, start, end time.Time) ([]signals.OutcomePair, error) {
	f.gotWindow = [2]time.Time{start, end}
	return f.pairs, f.err
}

func (f *fakeReader) LatestPlattParameters(context.Context) (*signals.PlattParameters, error) {
	return f.latest, f.err
}

func (f *fakeReader) PlattParameterHistory(_ context.Context, limit int) ([]signals.PlattParameters, error) {
	if f.latest == nil {
		return nil, f.err
	}
	return []signals.PlattParameters{*f.latest}, f.err
}

type fakeTrends struct{ err error }

func (f fakeTrends) Run(_ context.Context, now time.Time) (pipeline.RunResult, error) {
	return pipeline.RunResult{RunID: "t-1", Status: pipeline.StatusCompleted, WindowEnd: now}, f.err
}

type fakeCalibration struct{ err error }

func (f fakeCalibration) Run(_ context.Context, now time.Time) (calibration.RunResult, error) {
	return calibration.RunResult{RunID: "c-1", Status: calibration.StatusSkipped, GeneratedAt: now}, f.err
}

func newTestServer(reader *fakeReader, trends TrendRunner, cal CalibrationRunner, token string) *Server {
	return New(":0", Deps{
		Trends:      trends,
		Calibration: cal,
		Reader:      reader,
		Corrector:   calibration.NewCorrector(calibration.NewParameterCache(), reader),
		Report:      calibration.DefaultJobConfig(),
		Token:       token,
		Now:         func() time.Time { return srvNow },
	})
}

func do(t *testing.T, s *Server, method, target, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeReader{}, fakeTrends{}, fakeCalibration{}, "")
	if w := do(t, s, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListTrends(t *testing.T) {
	reader := &fakeReader{trends: []signals.TrendRecord{{Topic: "x", Phase: signals.PhasePeak}}}
	s := newTestServer(reader, fakeTrends{}, fakeCalibration{}, "")

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantPhase signals.Phase
		wantLimit int
	}{
		{"defaults", "/v1/trends", http.StatusOK, "", defaultTrendLimit},
		{"phase and limit", "/v1/trends?phase=peak&limit=5", http.StatusOK, signals.PhasePeak, 5},
		{"limit capped", "/v1/trends?limit=999999", http.StatusOK, "", maxTrendLimit},
		{"bad phase", "/v1/trends?phase=viral", http.StatusBadRequest, "", 0},
		{"bad limit", "/v1/trends?limit=-1", http.StatusBadRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader.gotPhase, reader.gotLimit = "", 0
			w := do(t, s, http.MethodGet, tt.target, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body)
			}
			if reader.gotPhase != tt.wantPhase || reader.gotLimit != tt.wantLimit {
				t.Errorf("query = (%q, %d), want (%q, %d)", reader.gotPhase, reader.gotLimit, tt.wantPhase, tt.wantLimit)
			}
		})
	}
}

func TestListTrends_BreakerOpen(t *testing.T) {
	reader := &fakeReader{err: fmt.Errorf("wrapped: %w", store.ErrBreakerOpen)}
	s := newTestServer(reader, fakeTrends{}, fakeCalibration{}, "")

	if w := do(t, s, http.MethodGet, "/v1/trends", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestJobs_TokenAndErrors(t *testing.T) {
	tests := []struct {
		name     string
		trends   TrendRunner
		auth     string
		wantCode int
	}{
		{"missing token", fakeTrends{}, "", http.StatusUnauthorized},
		{"wrong token", fakeTrends{}, "Bearer nope", http.StatusUnauthorized},
		{"ok", fakeTrends{}, "Bearer s3cret", http.StatusOK},
		{"already running", fakeTrends{err: store.ErrJobRunning}, "Bearer s3cret", http.StatusConflict},
		{"failure", fakeTrends{err: errors.New("boom")}, "Bearer s3cret", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeReader{}, tt.trends, fakeCalibration{}, "s3cret")
			w := do(t, s, http.MethodPost, "/v1/jobs/trends", tt.auth)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body)
			}
		})
	}
}

func TestRunCalibration(t *testing.T) {
	s := newTestServer(&fakeReader{}, fakeTrends{}, fakeCalibration{}, "")

	w := do(t, s, http.MethodPost, "/v1/jobs/calibration", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got calibration.RunResult
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != "c-1" || got.Status != calibration.StatusSkipped || !got.GeneratedAt.Equal(srvNow) {
		t.Errorf("result = %+v", got)
	}
}

func TestCalibrationReport(t *testing.T) {
	pairs := make([]signals.OutcomePair, 60)
	for i := range pairs {
		pairs[i] = signals.OutcomePair{PredictedScore: 50, ActualValue: 80, ReportedAt: srvNow.Add(-time.Hour)}
	}
	reader := &fakeReader{pairs: pairs}
	s := newTestServer(reader, fakeTrends{}, fakeCalibration{}, "")

	w := do(t, s, http.MethodGet, "/v1/calibration/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Report        calibration.Report `json:"report"`
		Sufficient    bool               `json:"sufficient"`
		DriftDetected bool               `json:"drift_detected"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Sufficient || !body.DriftDetected || len(body.Report.Bins) != 10 {
		t.Errorf("body = %+v", body)
	}
	if !reader.gotWindow[0].Equal(srvNow.Add(-90*24*time.Hour)) || !reader.gotWindow[1].Equal(srvNow) {
		t.Errorf("window = %v", reader.gotWindow)
	}
}

func TestCorrect(t *testing.T) {
	params := &signals.PlattParameters{A: -0.1, B: 5, SampleCount: 100, FittedAt: srvNow}
	s := newTestServer(&fakeReader{latest: params}, fakeTrends{}, fakeCalibration{}, "")

	w := do(t, s, http.MethodGet, "/v1/calibration/correct?score=50", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var got calibration.Correction
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	// Logistic(-0.1*50+5) = 1/(1+e^0) = 0.5
	if !got.Calibrated || got.Corrected != 50 {
		t.Errorf("correction = %+v", got)
	}

	for _, target := range []string{"/v1/calibration/correct", "/v1/calibration/correct?score=101", "/v1/calibration/correct?score=abc"} {
		if w := do(t, s, http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestPlattParams(t *testing.T) {
	params := &signals.PlattParameters{A: -0.05, B: 2.5, SampleCount: 80, FittedAt: srvNow}
	s := newTestServer(&fakeReader{latest: params}, fakeTrends{}, fakeCalibration{}, "")

	w := do(t, s, http.MethodGet, "/v1/calibration/params", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"b":2.5`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body)
	}

	empty := newTestServer(&fakeReader{}, fakeTrends{}, fakeCalibration{}, "")
	w = do(t, empty, http.MethodGet, "/v1/calibration/params", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"latest":null`) {
		t.Errorf("empty body = %s", w.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeReader{}, fakeTrends{}, fakeCalibration{}, "")
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("metrics status = %d", w.Code)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(&fakeReader{}, fakeTrends{}, fakeCalibration{}, "")
	s.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
