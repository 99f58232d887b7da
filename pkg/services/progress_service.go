package services

import (
	"github.com/extractly-ai/extractly-engine/pkg/models"
)

// SessionProgress summarizes how much of a session's extraction output has
// been verified.
type SessionProgress struct {
	Verified   int `json:"verified"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ProjectProgress counts a project's sessions by verification state.
type ProjectProgress struct {
	Verified   int `json:"verified"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Total      int `json:"total"`
}

// BoardStepProgress summarizes one step of a kanban-style task board.
type BoardStepProgress struct {
	Total           int            `json:"total"`
	Completed       int            `json:"completed"`
	Percentage      int            `json:"percentage"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
}

// ComputeSessionProgress folds a session's validation rows into a progress
// summary. Percentage is floored so it only reads 100 when every field is
// verified; 7 of 10 is 70, 999 of 1000 is 99.
func ComputeSessionProgress(validations []models.FieldValidation) SessionProgress {
	p := SessionProgress{Total: len(validations)}
	for i := range validations {
		if validations[i].CountsAsVerified() {
			p.Verified++
		}
	}
	if p.Total > 0 {
		p.Percentage = (p.Verified * 100) / p.Total
	}
	return p
}

// ComputeVerificationStatus derives a session's verification state from its
// validation rows: no rows is pending, all verified is verified, anything
// else is in progress.
func ComputeVerificationStatus(validations []models.FieldValidation) models.SessionStatus {
	if len(validations) == 0 {
		return models.SessionStatusPending
	}
	for i := range validations {
		if !validations[i].CountsAsVerified() {
			return models.SessionStatusInProgress
		}
	}
	return models.SessionStatusVerified
}

// ComputeProjectProgress folds session-level verification states into project
// counts. Nil entries are skipped: a half-loaded session list must not panic
// an overview endpoint.
func ComputeProjectProgress(sessions []*models.ExtractionSession, validationsBySession map[string][]models.FieldValidation) ProjectProgress {
	var p ProjectProgress
	for _, session := range sessions {
		if session == nil {
			continue
		}
		p.Total++

		status := ComputeVerificationStatus(validationsBySession[session.ID.String()])
		switch status {
		case models.SessionStatusVerified:
			p.Verified++
		case models.SessionStatusInProgress:
			p.InProgress++
		default:
			p.Pending++
		}
	}
	return p
}

// BoardTask is the minimal view of a kanban task the aggregator needs.
type BoardTask struct {
	Step   string
	Status string
	Done   bool
}

// ComputeBoardProgress groups tasks by board step and summarizes each step's
// completion and status distribution.
func ComputeBoardProgress(tasks []BoardTask) map[string]BoardStepProgress {
	result := make(map[string]BoardStepProgress)
	for _, task := range tasks {
		step := result[task.Step]
		if step.StatusBreakdown == nil {
			step.StatusBreakdown = make(map[string]int)
		}
		step.Total++
		step.StatusBreakdown[task.Status]++
		if task.Done {
			step.Completed++
		}
		result[task.Step] = step
	}

	for name, step := range result {
		if step.Total > 0 {
			step.Percentage = (step.Completed * 100) / step.Total
		}
		result[name] = step
	}
	return result
}
