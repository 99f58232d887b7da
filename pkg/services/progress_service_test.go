package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/extractly-ai/extractly-engine/pkg/models"
)

func vRow(status models.ValidationStatus) models.FieldValidation {
	return models.FieldValidation{ID: uuid.New(), ValidationStatus: status}
}

func nOf(n int, status models.ValidationStatus) []models.FieldValidation {
	out := make([]models.FieldValidation, n)
	for i := range out {
		out[i] = vRow(status)
	}
	return out
}

func TestComputeSessionProgress(t *testing.T) {
	tests := []struct {
		name string
		rows []models.FieldValidation
		want SessionProgress
	}{
		{"empty", nil, SessionProgress{}},
		{"all valid", nOf(4, models.ValidationStatusValid), SessionProgress{Verified: 4, Total: 4, Percentage: 100}},
		{"seven of ten", append(nOf(7, models.ValidationStatusValid), nOf(3, models.ValidationStatusInvalid)...),
			SessionProgress{Verified: 7, Total: 10, Percentage: 70}},
		{"manual counts", append(nOf(1, models.ValidationStatusManual), nOf(1, models.ValidationStatusInvalid)...),
			SessionProgress{Verified: 1, Total: 2, Percentage: 50}},
		{"legacy verified counts", nOf(2, models.ValidationStatusVerified),
			SessionProgress{Verified: 2, Total: 2, Percentage: 100}},
		{"pending does not count", nOf(3, models.ValidationStatusPending),
			SessionProgress{Verified: 0, Total: 3, Percentage: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeSessionProgress(tt.rows))
		})
	}
}

func TestComputeSessionProgress_FloorsPercentage(t *testing.T) {
	// 999 of 1000 must read 99, never round up to 100.
	rows := append(nOf(999, models.ValidationStatusValid), vRow(models.ValidationStatusInvalid))
	p := ComputeSessionProgress(rows)
	assert.Equal(t, 99, p.Percentage)

	// 100 is reserved for fully verified sessions.
	for i := range rows {
		rows[i].ValidationStatus = models.ValidationStatusValid
	}
	assert.Equal(t, 100, ComputeSessionProgress(rows).Percentage)
}

func TestComputeVerificationStatus(t *testing.T) {
	tests := []struct {
		name string
		rows []models.FieldValidation
		want models.SessionStatus
	}{
		{"empty is pending", nil, models.SessionStatusPending},
		{"all valid is verified", nOf(2, models.ValidationStatusValid), models.SessionStatusVerified},
		{"mixed is in progress", append(nOf(1, models.ValidationStatusValid), vRow(models.ValidationStatusInvalid)),
			models.SessionStatusInProgress},
		{"manual completes a session", append(nOf(1, models.ValidationStatusValid), vRow(models.ValidationStatusManual)),
			models.SessionStatusVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeVerificationStatus(tt.rows))
		})
	}
}

func TestComputeProjectProgress(t *testing.T) {
	s1 := &models.ExtractionSession{ID: uuid.New()}
	s2 := &models.ExtractionSession{ID: uuid.New()}
	s3 := &models.ExtractionSession{ID: uuid.New()}

	byTx := map[string][]models.FieldValidation{
		s1.ID.String(): nOf(2, models.ValidationStatusValid),
		s2.ID.String(): append(nOf(1, models.ValidationStatusValid), vRow(models.ValidationStatusInvalid)),
		// s3 has no rows yet.
	}

	p := ComputeProjectProgress([]*models.ExtractionSession{s1, s2, s3, nil}, byTx)
	assert.Equal(t, ProjectProgress{Verified: 1, InProgress: 1, Pending: 1, Total: 3}, p)
}

func TestComputeBoardProgress(t *testing.T) {
	tasks := []BoardTask{
		{Step: "intake", Status: "completed", Done: true},
		{Step: "intake", Status: "completed", Done: true},
		{Step: "intake", Status: "running", Done: false},
		{Step: "review", Status: "pending", Done: false},
	}

	got := ComputeBoardProgress(tasks)

	intake := got["intake"]
	assert.Equal(t, 3, intake.Total)
	assert.Equal(t, 2, intake.Completed)
	assert.Equal(t, 66, intake.Percentage)
	assert.Equal(t, map[string]int{"completed": 2, "running": 1}, intake.StatusBreakdown)

	review := got["review"]
	assert.Equal(t, 1, review.Total)
	assert.Equal(t, 0, review.Completed)
	assert.Equal(t, 0, review.Percentage)
}
