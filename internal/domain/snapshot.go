package domain

import "time"

// BatchSnapshot is a point-in-time, serializable view of a batch.
type BatchSnapshot struct {
	BatchID                 string              `json:"batchId"`
	Status                  Status              `json:"status"`
	ErrorMessage            string              `json:"errorMessage,omitempty"`
	MaxConcurrentOperations int                 `json:"maxConcurrentOperations"`
	CallbackURL             string              `json:"callbackUrl,omitempty"`
	CreatedAt               time.Time           `json:"createdAt"`
	StartedAt               *time.Time          `json:"startedAt,omitempty"`
	FinishedAt              *time.Time          `json:"finishedAt,omitempty"`
	TotalOperations         int                 `json:"totalOperations"`
	CompletedOperations     int                 `json:"completedOperations"`
	FailedOperations        int                 `json:"failedOperations"`
	CancelledOperations     int                 `json:"cancelledOperations"`
	ProgressPercentage      float64             `json:"progressPercentage"`
	Operations              []OperationSnapshot `json:"operations"`
}

// OperationSnapshot is the serializable view of a single operation.
type OperationSnapshot struct {
	OperationID      string         `json:"operationId"`
	OperationType    OperationType  `json:"operationType"`
	ItemRef          string         `json:"itemRef"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Status           Status         `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	ErrorKind        string         `json:"errorKind,omitempty"`
	Fallback         map[string]any `json:"fallback,omitempty"`
	RetryCount       int            `json:"retryCount"`
	MaxRetries       int            `json:"maxRetries"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	FinishedAt       *time.Time     `json:"finishedAt,omitempty"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

// Snapshot copies the batch state. Callers must hold whatever lock guards the batch.
func (b *Batch) Snapshot() *BatchSnapshot {
	snapshot := &BatchSnapshot{
		BatchID:                 b.ID,
		Status:                  b.Status,
		ErrorMessage:            b.ErrorMessage,
		MaxConcurrentOperations: b.MaxConcurrentOperations,
		CallbackURL:             b.CallbackURL,
		CreatedAt:               b.CreatedAt.UTC(),
		StartedAt:               utcTime(b.StartedAt),
		FinishedAt:              utcTime(b.FinishedAt),
		TotalOperations:         b.TotalOperations(),
		CompletedOperations:     b.CompletedOperations,
		FailedOperations:        b.FailedOperations,
		CancelledOperations:     b.CancelledOperations,
		ProgressPercentage:      b.ProgressPercentage(),
		Operations:              make([]OperationSnapshot, 0, len(b.Operations)),
	}

	for _, op := range b.Operations {
		snapshot.Operations = append(snapshot.Operations, OperationSnapshot{
			OperationID:      op.ID,
			OperationType:    op.Type,
			ItemRef:          op.ItemRef,
			Parameters:       copyMap(op.Parameters),
			Status:           op.Status,
			Result:           copyMap(op.Result),
			ErrorMessage:     op.ErrorMessage,
			ErrorKind:        op.ErrorKind,
			Fallback:         copyMap(op.Fallback),
			RetryCount:       op.RetryCount,
			MaxRetries:       op.MaxRetries,
			StartedAt:        utcTime(op.StartedAt),
			FinishedAt:       utcTime(op.FinishedAt),
			ProcessingTimeMs: op.ProcessingTime.Milliseconds(),
		})
	}

	return snapshot
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// copyMap is shallow: nested values are shared with the source.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
