package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/queue"
)

func TestHandleSubmission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		msg        queue.SubmissionMessage
		wantErr    error
		wantStatus domain.Status
	}{
		{
			name: "auto start",
			msg: queue.SubmissionMessage{
				CorrelationID: "corr-1",
				AutoStart:     true,
				Operations: []queue.SubmissionOperation{
					{Type: "detect-objects", ItemRef: "img-1"},
					{Type: "analyze_labels", ItemRef: "img-2", MaxRetries: intPtr(0)},
				},
			},
			wantStatus: domain.StatusCompleted,
		},
		{
			name: "created only",
			msg: queue.SubmissionMessage{
				Operations: []queue.SubmissionOperation{{Type: "annotate-image", ItemRef: "img"}},
			},
			wantStatus: domain.StatusPending,
		},
		{
			name: "invalid operation",
			msg: queue.SubmissionMessage{
				AutoStart:  true,
				Operations: []queue.SubmissionOperation{{Type: "resize", ItemRef: "img"}},
			},
			wantErr: domain.ErrValidation,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, _, _ := newTestService(t, allTypesDispatcher(okHandler(nil)), Options{})

			err := svc.HandleSubmission(context.Background(), tc.msg)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("HandleSubmission() error = %v, want %v", err, tc.wantErr)
				}
				if got := svc.store.Len(); got != 0 {
					t.Fatalf("registry size = %d, want 0", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("HandleSubmission() error = %v", err)
			}
			svc.Wait()

			batches := svc.store.List()
			if len(batches) != 1 {
				t.Fatalf("registry size = %d, want 1", len(batches))
			}
			snapshot := mustSnapshot(t, svc, batches[0].ID)
			if snapshot.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", snapshot.Status, tc.wantStatus)
			}
			if snapshot.TotalOperations != len(tc.msg.Operations) {
				t.Fatalf("totalOperations = %d, want %d", snapshot.TotalOperations, len(tc.msg.Operations))
			}
		})
	}
}
