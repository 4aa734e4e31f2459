package engine

import (
	"context"
	"sync"

	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/review"
)

// MockPrompter is a test implementation of the Prompter interface. It picks
// the scripted patient and confirms every selection, optionally dropping
// named entities first.
type MockPrompter struct {
	mu sync.Mutex

	// PatientID selects which patient to choose; empty picks the first.
	PatientID string
	// DeselectTexts drops entities whose Text matches before confirming.
	DeselectTexts map[string]bool
	// SkipUploads leaves the named uploads unconfirmed.
	SkipUploads map[string]bool

	reviewedUploads []string
}

// NewMockPrompter creates a mock prompter that confirms everything.
func NewMockPrompter() *MockPrompter {
	return &MockPrompter{
		DeselectTexts: make(map[string]bool),
		SkipUploads:   make(map[string]bool),
	}
}

// ChoosePatient picks the scripted patient.
func (m *MockPrompter) ChoosePatient(_ context.Context, patients []model.Patient) (model.Patient, error) {
	for _, p := range patients {
		if p.ID == m.PatientID {
			return p, nil
		}
	}
	return patients[0], nil
}

// ReviewEntities confirms the job with all non-deselected entities.
func (m *MockPrompter) ReviewEntities(_ context.Context, job *review.JobReview) (Decision, error) {
	m.mu.Lock()
	m.reviewedUploads = append(m.reviewedUploads, job.UploadID)
	m.mu.Unlock()

	if m.SkipUploads[job.UploadID] {
		return Decision{Confirm: false}, nil
	}

	var selected []string
	for _, e := range job.Entities {
		if !m.DeselectTexts[e.Text] {
			selected = append(selected, e.LocalID)
		}
	}
	return Decision{SelectedLocalIDs: selected, Confirm: true}, nil
}

// ReviewedUploads lists the uploads presented for review, in order.
func (m *MockPrompter) ReviewedUploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.reviewedUploads))
	copy(out, m.reviewedUploads)
	return out
}
