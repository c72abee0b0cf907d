package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// OperationAttemptModel is the persistence model for operation_attempts.
type OperationAttemptModel struct {
	ID            string                `gorm:"type:uuid;primaryKey"`
	BatchID       string                `gorm:"type:uuid;not null"`
	OperationID   string                `gorm:"type:uuid;not null"`
	OperationType string                `gorm:"type:varchar(40);not null"`
	AttemptNumber int                   `gorm:"not null"`
	Outcome       domain.AttemptOutcome `gorm:"type:varchar(20);not null"`
	ErrorKind     *string               `gorm:"type:varchar(40)"`
	Error         *string               `gorm:"type:text"`
	DurationMS    int64                 `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

func (OperationAttemptModel) TableName() string {
	return "operation_attempts"
}

// BatchRecordModel is the archived summary of a finished batch.
type BatchRecordModel struct {
	ID                  string        `gorm:"type:uuid;primaryKey"`
	Status              domain.Status `gorm:"type:varchar(20);not null"`
	TotalOperations     int           `gorm:"not null"`
	CompletedOperations int           `gorm:"not null;default:0"`
	FailedOperations    int           `gorm:"not null;default:0"`
	CancelledOperations int           `gorm:"not null;default:0"`
	ErrorMessage        *string       `gorm:"type:text"`
	CallbackURL         *string       `gorm:"type:text"`
	Snapshot            string        `gorm:"type:jsonb;not null"`
	CreatedAt           time.Time
	StartedAt           *time.Time
	FinishedAt          *time.Time
	ArchivedAt          time.Time
}

func (BatchRecordModel) TableName() string {
	return "batch_records"
}

func attemptModelFromDomain(a *domain.Attempt) *OperationAttemptModel {
	if a == nil {
		return nil
	}

	return &OperationAttemptModel{
		ID:            a.ID,
		BatchID:       a.BatchID,
		OperationID:   a.OperationID,
		OperationType: a.OperationType.String(),
		AttemptNumber: a.AttemptNumber,
		Outcome:       a.Outcome,
		ErrorKind:     optionalString(a.ErrorKind),
		Error:         a.Error,
		DurationMS:    a.Duration.Milliseconds(),
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *OperationAttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	attempt := &domain.Attempt{
		ID:            m.ID,
		BatchID:       m.BatchID,
		OperationID:   m.OperationID,
		OperationType: domain.OperationType(m.OperationType),
		AttemptNumber: m.AttemptNumber,
		Outcome:       m.Outcome,
		Error:         m.Error,
		Duration:      time.Duration(m.DurationMS) * time.Millisecond,
		CreatedAt:     m.CreatedAt,
	}
	if m.ErrorKind != nil {
		attempt.ErrorKind = *m.ErrorKind
	}
	return attempt
}

func batchRecordFromSnapshot(s *domain.BatchSnapshot, archivedAt time.Time) (*BatchRecordModel, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: snapshot is required", domain.ErrValidation)
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return &BatchRecordModel{
		ID:                  s.BatchID,
		Status:              s.Status,
		TotalOperations:     s.TotalOperations,
		CompletedOperations: s.CompletedOperations,
		FailedOperations:    s.FailedOperations,
		CancelledOperations: s.CancelledOperations,
		ErrorMessage:        optionalString(s.ErrorMessage),
		CallbackURL:         optionalString(s.CallbackURL),
		Snapshot:            string(payload),
		CreatedAt:           s.CreatedAt,
		StartedAt:           s.StartedAt,
		FinishedAt:          s.FinishedAt,
		ArchivedAt:          archivedAt.UTC(),
	}, nil
}

func batchRecordToSnapshot(m *BatchRecordModel) (*domain.BatchSnapshot, error) {
	if m == nil {
		return nil, nil
	}

	var snapshot domain.BatchSnapshot
	if err := json.Unmarshal([]byte(m.Snapshot), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode archived snapshot: %w", err)
	}
	return &snapshot, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
