// Package review runs the human-in-the-loop confirmation of extracted
// entities, the only place user judgment gates data persistence.
package review

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/model"
)

// Confirmer submits confirmed entities to the backend.
type Confirmer interface {
	ConfirmExtraction(ctx context.Context, uploadID string, entities []model.ExtractedEntity, patientID string) (*api.ConfirmResponse, error)
}

// JobReview is the client-local review state for one upload awaiting
// confirmation. Selection is keyed by each entity's stable local id rather
// than its position, so a reordered list cannot misattribute a choice.
type JobReview struct {
	UploadID       string
	Filename       string
	Entities       []model.ExtractedEntity
	Confirmed      bool
	RecordsCreated int
	LastErr        error

	selection map[string]bool
	signature string
}

// SelectedCount returns how many entities are currently selected.
func (j *JobReview) SelectedCount() int {
	count := 0
	for _, selected := range j.selection {
		if selected {
			count++
		}
	}
	return count
}

// IsSelected reports whether the entity with the given local id is selected.
func (j *JobReview) IsSelected(localID string) bool {
	return j.selection[localID]
}

// Manager tracks review state across jobs. Each job's confirmation is
// independent; confirming one never blocks another still under review.
type Manager struct {
	client Confirmer
	logger *slog.Logger

	mu        sync.Mutex
	jobs      map[string]*JobReview
	patients  []model.Patient
	patientID string
}

// NewManager creates a review manager.
func NewManager(client Confirmer) *Manager {
	return &Manager{
		client: client,
		logger: slog.Default().With("component", "review"),
		jobs:   make(map[string]*JobReview),
	}
}

// Ingest folds a fresh extraction result into review state. The first time a
// non-empty entity list arrives for a job, every entity is pre-selected:
// review is opt-out, not opt-in. If a re-poll delivers a changed entity list,
// the old selection is stale and is recomputed from scratch.
func (m *Manager) Ingest(result *model.ExtractionResult, filename string) {
	if result == nil || result.Status != model.StatusAwaitingConfirmation || len(result.Entities) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	signature := entitySignature(result.Entities)

	existing, ok := m.jobs[result.UploadID]
	if ok && existing.signature == signature {
		// Same entity list as before; keep the user's selection.
		return
	}
	if ok && !existing.Confirmed {
		m.logger.Warn("Entity list changed between polls, resetting selection",
			"upload_id", result.UploadID)
	}

	entities := make([]model.ExtractedEntity, len(result.Entities))
	copy(entities, result.Entities)

	selection := make(map[string]bool, len(entities))
	for i := range entities {
		entities[i].LocalID = uuid.NewString()
		selection[entities[i].LocalID] = true
	}

	m.jobs[result.UploadID] = &JobReview{
		UploadID:  result.UploadID,
		Filename:  filename,
		Entities:  entities,
		selection: selection,
		signature: signature,
	}
}

// Job returns the review state for one upload.
func (m *Manager) Job(uploadID string) (*JobReview, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[uploadID]
	return job, ok
}

// ActiveJobs lists jobs still awaiting confirmation, in upload id order.
func (m *Manager) ActiveJobs() []*JobReview {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*JobReview
	for _, job := range m.jobs {
		if !job.Confirmed {
			active = append(active, job)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].UploadID < active[j].UploadID
	})
	return active
}

// SetPatients installs the independently loaded patient list. It is treated
// as read-only for the rest of the review session.
func (m *Manager) SetPatients(patients []model.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients = patients
}

// Patients returns the loaded patient list.
func (m *Manager) Patients() []model.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients
}

// ChoosePatient selects the target patient. Choosing is a required, explicit
// step; no patient is ever picked silently.
func (m *Manager) ChoosePatient(patientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.patients {
		if p.ID == patientID {
			m.patientID = patientID
			return nil
		}
	}
	return fmt.Errorf("unknown patient %q", patientID)
}

// ChosenPatient returns the selected patient id, empty if none chosen yet.
func (m *Manager) ChosenPatient() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patientID
}

// Toggle flips one entity's selection.
func (m *Manager) Toggle(uploadID, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[uploadID]
	if !ok {
		return fmt.Errorf("no review in progress for upload %s", uploadID)
	}
	if _, ok := job.selection[localID]; !ok {
		return fmt.Errorf("unknown entity %s for upload %s", localID, uploadID)
	}
	job.selection[localID] = !job.selection[localID]
	return nil
}

// SelectAll marks every entity selected.
func (m *Manager) SelectAll(uploadID string) {
	m.setAll(uploadID, true)
}

// SelectNone clears the selection.
func (m *Manager) SelectNone(uploadID string) {
	m.setAll(uploadID, false)
}

func (m *Manager) setAll(uploadID string, selected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[uploadID]; ok {
		for id := range job.selection {
			job.selection[id] = selected
		}
	}
}

// SelectedEntities returns the selected subset in extraction order.
func (m *Manager) SelectedEntities(uploadID string) []model.ExtractedEntity {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[uploadID]
	if !ok {
		return nil
	}

	var selected []model.ExtractedEntity
	for _, e := range job.Entities {
		if job.selection[e.LocalID] {
			selected = append(selected, e)
		}
	}
	return selected
}

// CanConfirm reports whether the confirm action is enabled: an unconfirmed
// job, a non-empty selection, and a chosen patient.
func (m *Manager) CanConfirm(uploadID string) bool {
	m.mu.Lock()
	job, ok := m.jobs[uploadID]
	patientChosen := m.patientID != ""
	m.mu.Unlock()

	if !ok || job.Confirmed || !patientChosen {
		return false
	}
	return job.SelectedCount() > 0
}

// Confirm submits the selected entities for permanent materialization. On
// success the job leaves the active review set; on failure the selection is
// preserved so the user can retry without re-reviewing.
func (m *Manager) Confirm(ctx context.Context, uploadID string) (*api.ConfirmResponse, error) {
	m.mu.Lock()
	job, ok := m.jobs[uploadID]
	patientID := m.patientID
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no review in progress for upload %s", uploadID)
	}
	if job.Confirmed {
		return nil, fmt.Errorf("upload %s already confirmed", uploadID)
	}
	if patientID == "" {
		return nil, common.ErrNoPatientChosen
	}

	selected := m.SelectedEntities(uploadID)
	if len(selected) == 0 {
		// Never submit an empty confirmation.
		return nil, common.ErrEmptySelection
	}

	resp, err := m.client.ConfirmExtraction(ctx, uploadID, selected, patientID)
	if err != nil {
		m.mu.Lock()
		job.LastErr = err
		m.mu.Unlock()
		return nil, fmt.Errorf("confirmation failed: %w", err)
	}

	m.mu.Lock()
	job.Confirmed = true
	job.RecordsCreated = resp.RecordsCreated
	job.LastErr = nil
	m.mu.Unlock()

	m.logger.Info("Entities confirmed",
		"upload_id", uploadID,
		"entities", len(selected),
		"records_created", resp.RecordsCreated)

	return resp, nil
}

// entitySignature fingerprints an entity list so a changed list can be
// detected across polls.
func entitySignature(entities []model.ExtractedEntity) string {
	h := sha256.New()
	for _, e := range entities {
		fmt.Fprintf(h, "%s|%s|", e.EntityClass, e.Text)
		if e.StartPos != nil {
			fmt.Fprintf(h, "%d", *e.StartPos)
		}
		fmt.Fprint(h, "|")
		if e.EndPos != nil {
			fmt.Fprintf(h, "%d", *e.EndPos)
		}
		fmt.Fprint(h, ";")
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
