package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/provider"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"github.com/kursadbilgin/batch-engine/internal/service"
	"github.com/kursadbilgin/batch-engine/internal/transport"
	"go.uber.org/zap"
)

func TestBatchIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	var gotCorrelation string
	var started []string
	svc := &stubBatchService{
		createBatchFn: func(ctx context.Context, req service.CreateBatchRequest) (string, error) {
			gotCorrelation, _ = observability.CorrelationIDFromContext(ctx)
			if len(req.Operations) == 0 {
				return "", fmt.Errorf("%w: batch must include at least 1 operation", domain.ErrValidation)
			}
			if req.MaxConcurrentOperations != 4 {
				t.Errorf("maxConcurrentOperations = %d, want 4", req.MaxConcurrentOperations)
			}
			return "batch-1", nil
		},
		startFn: func(ctx context.Context, batchID string) bool {
			started = append(started, batchID)
			return true
		},
	}

	app := newBatchTestApp(t, svc)

	body := `{"operations":[{"type":"detect-objects","itemRef":"img-1"},{"type":"analyze-labels","itemRef":"img-2"}],"maxConcurrentOperations":4}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/batches", body, map[string]string{
		fiber.HeaderXRequestID: "req-123",
	})
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["batchId"] != "batch-1" || parsed["status"] != "PENDING" || parsed["totalOperations"] != float64(2) {
		t.Fatalf("response = %v", parsed)
	}
	if gotCorrelation != "req-123" {
		t.Fatalf("correlation id = %q, want req-123", gotCorrelation)
	}
	if len(started) != 0 {
		t.Fatalf("batch started without autoStart")
	}

	autoStart := `{"operations":[{"type":"detect-objects","itemRef":"img-1"}],"maxConcurrentOperations":4,"autoStart":true}`
	resp, respBody = performRequest(t, app, http.MethodPost, "/v1/batches", autoStart, nil)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}
	if !strings.Contains(string(respBody), `"status":"RUNNING"`) || len(started) != 1 {
		t.Fatalf("autoStart response = %s, started = %v", respBody, started)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches", `{"operations":[]}`, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty batch", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches", `{"operations":`, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestBatchIntegration_StartAndCancel(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		startFn:  func(ctx context.Context, batchID string) bool { return batchID == "b-pending" },
		cancelFn: func(ctx context.Context, batchID string) bool { return batchID == "b-pending" },
		getStatusFn: func(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
			if batchID == "b-done" {
				return &domain.BatchSnapshot{BatchID: batchID, Status: domain.StatusCompleted}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	app := newBatchTestApp(t, svc)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "start pending", path: "/v1/batches/b-pending/start", wantStatus: fiber.StatusOK},
		{name: "start finished", path: "/v1/batches/b-done/start", wantStatus: fiber.StatusConflict},
		{name: "start unknown", path: "/v1/batches/b-missing/start", wantStatus: fiber.StatusNotFound},
		{name: "cancel pending", path: "/v1/batches/b-pending/cancel", wantStatus: fiber.StatusOK},
		{name: "cancel finished", path: "/v1/batches/b-done/cancel", wantStatus: fiber.StatusConflict},
		{name: "cancel unknown", path: "/v1/batches/b-missing/cancel", wantStatus: fiber.StatusNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp, body := performRequest(t, app, http.MethodPost, tc.path, "", nil)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tc.wantStatus, string(body))
			}
		})
	}
}

func TestBatchIntegration_GetStatusAndResults(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		getStatusFn: func(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
			if batchID != "b-1" {
				return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
			}
			return &domain.BatchSnapshot{BatchID: "b-1", Status: domain.StatusRunning, TotalOperations: 3}, nil
		},
		getResultsFn: func(ctx context.Context, batchID string) (*service.BatchResults, error) {
			switch batchID {
			case "b-1":
				return nil, fmt.Errorf("%w: batch b-1 is RUNNING", domain.ErrNotReady)
			case "b-2":
				return &service.BatchResults{BatchID: "b-2", Status: domain.StatusCompleted}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var snapshot domain.BatchSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if snapshot.Status != domain.StatusRunning || snapshot.TotalOperations != 3 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/unknown", "", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/b-1/results", "", nil)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for unfinished batch", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/batches/b-2/results", "", nil)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"batchId":"b-2"`) {
		t.Fatalf("status = %d body = %s, want 200 with results", resp.StatusCode, body)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/nope/results", "", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchIntegration_ListAttempts(t *testing.T) {
	t.Parallel()

	var gotOperation string
	svc := &stubBatchService{
		attemptsFn: func(ctx context.Context, batchID string, operationID string) ([]service.AttemptView, error) {
			if batchID != "batch-1" {
				return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
			}
			gotOperation = operationID
			return []service.AttemptView{
				{OperationID: "op-1", AttemptNumber: 1, Outcome: domain.AttemptRetrying, ErrorKind: "external-service-error"},
				{OperationID: "op-1", AttemptNumber: 2, Outcome: domain.AttemptSucceeded},
			}, nil
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/attempts?operationId=op-1", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotOperation != "op-1" {
		t.Fatalf("operationId = %q, want op-1", gotOperation)
	}

	var parsed struct {
		BatchID  string                `json:"batchId"`
		Attempts []service.AttemptView `json:"attempts"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID != "batch-1" || len(parsed.Attempts) != 2 || parsed.Attempts[1].Outcome != domain.AttemptSucceeded {
		t.Fatalf("response = %+v", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/other/attempts", "", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchIntegration_UnexpectedErrorIs500(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		getStatusFn: func(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
			return nil, errors.New("registry corrupted")
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", nil)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(string(body), "registry corrupted") {
		t.Fatalf("internal error leaked to client: %s", body)
	}
}

func TestBatchIntegration_EndToEndWithService(t *testing.T) {
	t.Parallel()

	handlers := map[domain.OperationType]provider.Handler{}
	for _, opType := range domain.OperationTypes() {
		handlers[opType] = provider.HandlerFunc(func(ctx context.Context, itemRef string, parameters map[string]any) (any, error) {
			return map[string]any{"itemRef": itemRef}, nil
		})
	}
	svc, err := service.NewBatchService(repository.NewMemoryBatchStore(), provider.NewDispatcher(handlers), nil, service.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	app := newBatchTestApp(t, svc)

	body := `{"operations":[{"type":"detect-objects","itemRef":"a"},{"type":"annotate-image","itemRef":"b"}],"maxConcurrentOperations":15,"autoStart":true}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/batches", body, nil)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}
	var created map[string]any
	if err := json.Unmarshal(respBody, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	batchID, _ := created["batchId"].(string)

	svc.Wait()

	resp, respBody = performRequest(t, app, http.MethodGet, "/v1/batches/"+batchID+"/results", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	var results service.BatchResults
	if err := json.Unmarshal(respBody, &results); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if results.Summary.CompletedOperations != 2 || len(results.ResultsByType) != 2 {
		t.Fatalf("results = %+v", results)
	}

	resp, respBody = performRequest(t, app, http.MethodGet, "/v1/statistics", "", nil)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(respBody), `"totalJobsCompleted":1`) {
		t.Fatalf("statistics = %d %s", resp.StatusCode, respBody)
	}
}

type stubBatchService struct {
	createBatchFn func(ctx context.Context, req service.CreateBatchRequest) (string, error)
	startFn       func(ctx context.Context, batchID string) bool
	getStatusFn   func(ctx context.Context, batchID string) (*domain.BatchSnapshot, error)
	getResultsFn  func(ctx context.Context, batchID string) (*service.BatchResults, error)
	cancelFn      func(ctx context.Context, batchID string) bool
	attemptsFn    func(ctx context.Context, batchID string, operationID string) ([]service.AttemptView, error)
	statisticsFn  func() service.Statistics
}

func (s *stubBatchService) CreateBatch(ctx context.Context, req service.CreateBatchRequest) (string, error) {
	if s.createBatchFn != nil {
		return s.createBatchFn(ctx, req)
	}
	return "", errors.New("not implemented")
}

func (s *stubBatchService) Start(ctx context.Context, batchID string) bool {
	if s.startFn != nil {
		return s.startFn(ctx, batchID)
	}
	return false
}

func (s *stubBatchService) GetStatus(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) GetResults(ctx context.Context, batchID string) (*service.BatchResults, error) {
	if s.getResultsFn != nil {
		return s.getResultsFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) Cancel(ctx context.Context, batchID string) bool {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, batchID)
	}
	return false
}

func (s *stubBatchService) ListAttempts(ctx context.Context, batchID string, operationID string) ([]service.AttemptView, error) {
	if s.attemptsFn != nil {
		return s.attemptsFn(ctx, batchID, operationID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) Statistics() service.Statistics {
	if s.statisticsFn != nil {
		return s.statisticsFn()
	}
	return service.Statistics{}
}

func newBatchTestApp(t *testing.T, svc BatchService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterBatchRoutes(app, svc); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(
	t *testing.T,
	app *fiber.App,
	method string,
	path string,
	body string,
	headers map[string]string,
) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
