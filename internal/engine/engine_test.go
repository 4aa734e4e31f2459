package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
	"github.com/healthfolio/folio/internal/service"
	"github.com/healthfolio/folio/internal/testutil"
)

// mockBackend scripts the full server surface. GetExtraction steps through
// a per-upload sequence of results, sticking on the last one.
type mockBackend struct {
	mu sync.Mutex

	uploadResp      *api.UploadResponse
	uploadErr       error
	unstructured    map[string]api.UnstructuredUpload
	unstructuredErr error

	extractions map[string][]*model.ExtractionResult
	extractIdx  map[string]int

	progress *model.ProgressSnapshot

	triggered  [][]string
	pending    []api.UnstructuredUpload
	confirmed  map[string][]model.ExtractedEntity
	confirmErr error
	records    int
	patientIDs []string

	patients []model.Patient
	history  []model.HistoryItem
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		unstructured: make(map[string]api.UnstructuredUpload),
		extractions:  make(map[string][]*model.ExtractionResult),
		extractIdx:   make(map[string]int),
		confirmed:    make(map[string][]model.ExtractedEntity),
		progress:     &model.ProgressSnapshot{},
		patients:     []model.Patient{{ID: "pat-1", Name: "Ada"}},
	}
}

func (m *mockBackend) scriptExtraction(uploadID string, steps ...*model.ExtractionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[uploadID] = steps
}

func (m *mockBackend) Upload(_ context.Context, _ model.FilePayload) (*api.UploadResponse, error) {
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	return m.uploadResp, nil
}

func (m *mockBackend) UploadUnstructured(_ context.Context, file model.FilePayload) (*api.UnstructuredUpload, error) {
	if m.unstructuredErr != nil {
		return nil, m.unstructuredErr
	}
	u, ok := m.unstructured[file.Name]
	if !ok {
		return nil, errors.New("unexpected unstructured upload")
	}
	return &u, nil
}

func (m *mockBackend) UploadUnstructuredBatch(ctx context.Context, files []model.FilePayload) ([]api.UnstructuredUpload, error) {
	out := make([]api.UnstructuredUpload, 0, len(files))
	for _, f := range files {
		u, err := m.UploadUnstructured(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockBackend) GetExtraction(_ context.Context, uploadID string) (*model.ExtractionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := m.extractions[uploadID]
	if len(steps) == 0 {
		return nil, errors.New("no scripted extraction for " + uploadID)
	}
	idx := m.extractIdx[uploadID]
	if idx >= len(steps) {
		idx = len(steps) - 1
	} else {
		m.extractIdx[uploadID]++
	}
	return steps[idx], nil
}

func (m *mockBackend) GetExtractionProgress(_ context.Context) (*model.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress, nil
}

func (m *mockBackend) TriggerExtraction(_ context.Context, uploadIDs []string) ([]api.TriggerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = append(m.triggered, uploadIDs)
	out := make([]api.TriggerResult, 0, len(uploadIDs))
	for _, id := range uploadIDs {
		out = append(out, api.TriggerResult{UploadID: id, Status: "processing"})
	}
	return out, nil
}

func (m *mockBackend) GetPendingExtraction(_ context.Context, _ []string) ([]api.UnstructuredUpload, error) {
	return m.pending, nil
}

func (m *mockBackend) ConfirmExtraction(_ context.Context, uploadID string, entities []model.ExtractedEntity, patientID string) (*api.ConfirmResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	m.confirmed[uploadID] = entities
	m.patientIDs = append(m.patientIDs, patientID)
	return &api.ConfirmResponse{RecordsCreated: m.records}, nil
}

func (m *mockBackend) GetPatients(_ context.Context) ([]model.Patient, error) {
	return m.patients, nil
}

func (m *mockBackend) GetHistory(_ context.Context) ([]model.HistoryItem, error) {
	return m.history, nil
}

func (m *mockBackend) triggerCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.triggered))
	copy(out, m.triggered)
	return out
}

func (m *mockBackend) confirmedEntities(uploadID string) []model.ExtractedEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed[uploadID]
}

func fastEngineConfig() Config {
	return Config{
		Poll: poll.Options{
			Interval: 2 * time.Millisecond,
			Deadline: time.Second,
		},
		ProgressInterval: 2 * time.Millisecond,
	}
}

func awaitingResult(uploadID string, texts ...string) *model.ExtractionResult {
	entities := make([]model.ExtractedEntity, 0, len(texts))
	for _, t := range texts {
		entities = append(entities, model.ExtractedEntity{
			EntityClass: model.EntityMedication,
			Text:        t,
			Confidence:  0.9,
		})
	}
	return &model.ExtractionResult{
		UploadID: uploadID,
		Status:   model.StatusAwaitingConfirmation,
		Entities: entities,
	}
}

func TestRunNoFiles(t *testing.T) {
	eng := NewWithConfig(newMockBackend(), nil, NewMockPrompter(), fastEngineConfig())

	_, err := eng.Run(context.Background(), nil)

	assert.ErrorIs(t, err, common.ErrNothingToUpload)
}

func TestRunStructuredOnly(t *testing.T) {
	backend := newMockBackend()
	backend.uploadResp = &api.UploadResponse{
		UploadID:        "up-1",
		Status:          "completed",
		RecordsInserted: 12,
	}

	eng := NewWithConfig(backend, nil, NewMockPrompter(), fastEngineConfig())

	stats, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "labs.json", Content: []byte(`{}`)},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 12, stats.RecordsInserted)
	assert.Equal(t, 0, stats.ExtractionsRun)
	assert.Empty(t, backend.triggerCalls())
}

func TestRunUnstructuredFullPipeline(t *testing.T) {
	backend := newMockBackend()
	backend.unstructured["visit.pdf"] = api.UnstructuredUpload{
		UploadID: "up-7", Filename: "visit.pdf", Status: "pending",
	}
	backend.scriptExtraction("up-7",
		&model.ExtractionResult{UploadID: "up-7", Status: model.StatusProcessing},
		awaitingResult("up-7", "Lisinopril", "10mg", "daily"),
	)
	backend.records = 3

	prompter := NewMockPrompter()
	prompter.DeselectTexts["daily"] = true

	eng := NewWithConfig(backend, nil, prompter, fastEngineConfig())

	stats, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "visit.pdf", Content: []byte("pdf")},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 1, stats.ExtractionsRun)
	assert.Equal(t, 3, stats.RecordsConfirmed)

	// The pending job was triggered before polling began.
	calls := backend.triggerCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"up-7"}, calls[0])

	// The deselected entity is absent and order follows the extraction.
	sent := backend.confirmedEntities("up-7")
	require.Len(t, sent, 2)
	assert.Equal(t, "Lisinopril", sent[0].Text)
	assert.Equal(t, "10mg", sent[1].Text)
	assert.Equal(t, []string{"pat-1"}, backend.patientIDs)
}

func TestRunEmbeddedAttachmentsJoinExtraction(t *testing.T) {
	backend := newMockBackend()
	backend.uploadResp = &api.UploadResponse{
		UploadID:        "up-1",
		Status:          "completed",
		RecordsInserted: 5,
		UnstructuredUploads: []api.UnstructuredUpload{
			{UploadID: "up-2", Filename: "scan.pdf", Status: "pending"},
		},
	}
	backend.scriptExtraction("up-2", awaitingResult("up-2", "Metformin"))
	backend.records = 1

	eng := NewWithConfig(backend, nil, NewMockPrompter(), fastEngineConfig())

	stats, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "export.zip", Content: []byte("zip")},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 1, stats.ExtractionsRun)
	assert.Equal(t, 1, stats.RecordsConfirmed)

	calls := backend.triggerCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"up-2"}, calls[0])
}

func TestRunSkipsReviewDecision(t *testing.T) {
	backend := newMockBackend()
	backend.unstructured["note.txt"] = api.UnstructuredUpload{
		UploadID: "up-9", Filename: "note.txt", Status: "pending",
	}
	backend.scriptExtraction("up-9", awaitingResult("up-9", "Aspirin"))

	prompter := NewMockPrompter()
	prompter.SkipUploads["up-9"] = true

	eng := NewWithConfig(backend, nil, prompter, fastEngineConfig())

	stats, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "note.txt", Content: []byte("note")},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordsConfirmed)
	assert.Empty(t, backend.confirmedEntities("up-9"))
	assert.Equal(t, []string{"up-9"}, prompter.ReviewedUploads())

	// The job stays reviewable for a later session.
	assert.Len(t, eng.Reviews().ActiveJobs(), 1)
}

func TestRunConfirmFailureDoesNotFailRun(t *testing.T) {
	backend := newMockBackend()
	backend.unstructured["note.txt"] = api.UnstructuredUpload{
		UploadID: "up-9", Filename: "note.txt", Status: "pending",
	}
	backend.scriptExtraction("up-9", awaitingResult("up-9", "Aspirin"))
	backend.confirmErr = errors.New("server unavailable")

	eng := NewWithConfig(backend, nil, NewMockPrompter(), fastEngineConfig())

	stats, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "note.txt", Content: []byte("note")},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordsConfirmed)

	// Selection survives the failed attempt.
	job, ok := eng.Reviews().Job("up-9")
	require.True(t, ok)
	assert.False(t, job.Confirmed)
	assert.Len(t, eng.Reviews().SelectedEntities("up-9"), 1)
}

func TestRunFailedFileCounted(t *testing.T) {
	backend := newMockBackend()
	backend.uploadErr = errors.New("boom")

	var seen []model.UploadResult
	cfg := fastEngineConfig()
	cfg.OnUpload = func(r model.UploadResult) { seen = append(seen, r) }

	eng := NewWithConfig(backend, nil, NewMockPrompter(), cfg)

	stats, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "labs.json", Content: []byte(`{}`)},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 0, stats.FilesUploaded)
	require.Len(t, seen, 1)
	assert.Error(t, seen[0].Err)
}

func TestRunProgressCallback(t *testing.T) {
	backend := newMockBackend()
	backend.unstructured["note.txt"] = api.UnstructuredUpload{
		UploadID: "up-3", Filename: "note.txt", Status: "pending",
	}
	backend.scriptExtraction("up-3",
		&model.ExtractionResult{UploadID: "up-3", Status: model.StatusCompleted},
	)
	backend.progress = &model.ProgressSnapshot{Total: 1, Completed: 1}

	var mu sync.Mutex
	var snapshots []model.ProgressSnapshot
	cfg := fastEngineConfig()
	cfg.OnProgress = func(s model.ProgressSnapshot) {
		mu.Lock()
		snapshots = append(snapshots, s)
		mu.Unlock()
	}

	eng := NewWithConfig(backend, nil, NewMockPrompter(), cfg)

	_, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "note.txt", Content: []byte("note")},
	})

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	assert.Equal(t, 1, snapshots[0].Completed)
}

func TestRunRefreshesHistoryCache(t *testing.T) {
	backend := newMockBackend()
	backend.uploadResp = &api.UploadResponse{
		UploadID: "up-1", Status: "completed", RecordsInserted: 2,
	}
	backend.history = []model.HistoryItem{
		testutil.HistoryItem("up-1", "labs.json", model.StatusCompleted),
	}

	db := testutil.SetupTestDB(t)
	eng := NewWithConfig(backend, db.Storage, NewMockPrompter(), fastEngineConfig())

	_, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "labs.json", Content: []byte(`{}`)},
	})
	require.NoError(t, err)

	items, err := db.Storage.GetHistory(context.Background(), service.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "labs.json", items[0].Filename)

	// The dispatch marked the cache stale; the post-run refresh cleared it.
	stale, err := db.Storage.IsStale(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestLatestResultTracksUpdates(t *testing.T) {
	backend := newMockBackend()
	backend.unstructured["note.txt"] = api.UnstructuredUpload{
		UploadID: "up-4", Filename: "note.txt", Status: "pending",
	}
	backend.scriptExtraction("up-4",
		&model.ExtractionResult{UploadID: "up-4", Status: model.StatusFailed, Error: "ocr failed"},
	)

	eng := NewWithConfig(backend, nil, NewMockPrompter(), fastEngineConfig())

	_, err := eng.Run(context.Background(), []model.FilePayload{
		{Name: "note.txt", Content: []byte("note")},
	})

	require.NoError(t, err)
	result, ok := eng.LatestResult("up-4")
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, "ocr failed", result.Error)
}
