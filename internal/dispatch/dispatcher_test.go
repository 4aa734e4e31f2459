package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/model"
)

// mockUploader records calls and returns scripted responses.
type mockUploader struct {
	mu              sync.Mutex
	structuredCalls []string
	singleCalls     []string
	batchCalls      [][]string

	uploadResponses map[string]*api.UploadResponse
	uploadErrs      map[string]error
	singleResponse  *api.UnstructuredUpload
	singleErr       error
	batchResponse   []api.UnstructuredUpload
	batchErr        error
}

func (m *mockUploader) Upload(_ context.Context, file model.FilePayload) (*api.UploadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredCalls = append(m.structuredCalls, file.Name)

	if err, ok := m.uploadErrs[file.Name]; ok {
		return nil, err
	}
	if resp, ok := m.uploadResponses[file.Name]; ok {
		return resp, nil
	}
	return &api.UploadResponse{UploadID: file.Name + "-id", Status: "completed"}, nil
}

func (m *mockUploader) UploadUnstructured(_ context.Context, file model.FilePayload) (*api.UnstructuredUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.singleCalls = append(m.singleCalls, file.Name)

	if m.singleErr != nil {
		return nil, m.singleErr
	}
	if m.singleResponse != nil {
		return m.singleResponse, nil
	}
	return &api.UnstructuredUpload{UploadID: file.Name + "-id", Filename: file.Name, Status: "pending"}, nil
}

func (m *mockUploader) UploadUnstructuredBatch(_ context.Context, files []model.FilePayload) ([]api.UnstructuredUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	m.batchCalls = append(m.batchCalls, names)

	if m.batchErr != nil {
		return nil, m.batchErr
	}
	if m.batchResponse != nil {
		return m.batchResponse, nil
	}
	uploads := make([]api.UnstructuredUpload, len(files))
	for i, f := range files {
		uploads[i] = api.UnstructuredUpload{UploadID: f.Name + "-id", Filename: f.Name, Status: "pending"}
	}
	return uploads, nil
}

type mockInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (m *mockInvalidator) MarkStale(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nil
}

func TestDispatchStructuredSequentialOrder(t *testing.T) {
	uploader := &mockUploader{}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{
		{Name: "first.json"},
		{Name: "second.zip"},
		{Name: "third.csv"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, []string{"first.json", "second.zip", "third.csv"}, uploader.structuredCalls)
	for _, r := range results {
		require.NoError(t, r.Err)
		require.NotNil(t, r.Job)
		assert.Equal(t, model.CategoryStructured, r.Job.Category)
	}
}

func TestDispatchSingleStructuredNoEmbedded(t *testing.T) {
	uploader := &mockUploader{
		uploadResponses: map[string]*api.UploadResponse{
			"bundle.json": {UploadID: "u-1", Status: "completed", RecordsInserted: 7},
		},
	}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{{Name: "bundle.json"}})

	require.Len(t, results, 1)
	assert.Equal(t, 7, results[0].RecordsInserted)
	assert.Empty(t, d.PendingExtractions())
}

func TestDispatchEmbeddedAttachmentsQueued(t *testing.T) {
	uploader := &mockUploader{
		uploadResponses: map[string]*api.UploadResponse{
			"export.zip": {
				UploadID: "u-1",
				Status:   "completed",
				UnstructuredUploads: []api.UnstructuredUpload{
					{UploadID: "u-2", Filename: "embedded.pdf", Status: "pending"},
				},
			},
		},
	}
	d := New(uploader, nil)

	d.Dispatch(context.Background(), []model.FilePayload{{Name: "export.zip"}})

	pending := d.PendingExtractions()
	require.Len(t, pending, 1)
	assert.Equal(t, "u-2", pending[0].ID)
	assert.Equal(t, model.CategoryUnstructured, pending[0].Category)

	// The queue drains on read
	assert.Empty(t, d.PendingExtractions())
}

func TestDispatchSingleUnstructuredUsesSingleEndpoint(t *testing.T) {
	uploader := &mockUploader{}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{{Name: "note.pdf"}})

	require.Len(t, results, 1)
	assert.Equal(t, []string{"note.pdf"}, uploader.singleCalls)
	assert.Empty(t, uploader.batchCalls)
	assert.Equal(t, model.StatusPending, results[0].Job.Status)
}

func TestDispatchMultipleUnstructuredUsesBatch(t *testing.T) {
	uploader := &mockUploader{}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{
		{Name: "a.pdf"},
		{Name: "b.png"},
	})

	require.Len(t, results, 2)
	assert.Empty(t, uploader.singleCalls)
	require.Len(t, uploader.batchCalls, 1)
	assert.Equal(t, []string{"a.pdf", "b.png"}, uploader.batchCalls[0])
	assert.Equal(t, "a.pdf-id", results[0].Job.ID)
	assert.Equal(t, "b.png-id", results[1].Job.ID)
}

func TestDispatchPartialFailure(t *testing.T) {
	bad := errors.New("ingestion rejected file")
	uploader := &mockUploader{
		uploadErrs: map[string]error{"broken.json": bad},
	}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{
		{Name: "broken.json"},
		{Name: "fine.json"},
		{Name: "scan.pdf"},
	})

	require.Len(t, results, 3)
	assert.ErrorIs(t, results[0].Err, bad)
	assert.Nil(t, results[0].Job)

	require.NoError(t, results[1].Err)
	require.NotNil(t, results[1].Job, "sibling success must survive a failure")

	require.NoError(t, results[2].Err)
	require.NotNil(t, results[2].Job)
}

func TestDispatchBatchEntryFailure(t *testing.T) {
	uploader := &mockUploader{
		batchResponse: []api.UnstructuredUpload{
			{UploadID: "", Filename: "a.pdf", Status: "failed"},
			{UploadID: "b-id", Filename: "b.png", Status: "pending"},
		},
	}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{
		{Name: "a.pdf"},
		{Name: "b.png"},
	})

	require.Len(t, results, 2, "both entries present")
	assert.Error(t, results[0].Err)
	require.NotNil(t, results[1].Job, "surviving entry proceeds to polling")
	assert.Equal(t, "b-id", results[1].Job.ID)
}

func TestDispatchWholeBatchFailure(t *testing.T) {
	batchErr := fmt.Errorf("gateway timeout")
	uploader := &mockUploader{batchErr: batchErr}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{
		{Name: "ok.json"},
		{Name: "a.pdf"},
		{Name: "b.png"},
	})

	require.Len(t, results, 3)
	require.NotNil(t, results[0].Job, "structured sibling unaffected")
	assert.ErrorIs(t, results[1].Err, batchErr)
	assert.ErrorIs(t, results[2].Err, batchErr)
}

func TestDispatchSkipsUnclassifiedSilently(t *testing.T) {
	uploader := &mockUploader{}
	d := New(uploader, nil)

	results := d.Dispatch(context.Background(), []model.FilePayload{
		{Name: "keep.json"},
		{Name: "virus.exe"},
	})

	require.Len(t, results, 2)
	assert.True(t, results[1].Skipped)
	assert.NoError(t, results[1].Err, "unclassified is not an error")
	assert.Nil(t, results[1].Job)
}

func TestDispatchInvalidatesHistoryCache(t *testing.T) {
	invalidator := &mockInvalidator{}
	d := New(&mockUploader{}, invalidator)

	d.Dispatch(context.Background(), []model.FilePayload{{Name: "bundle.json"}})

	assert.Equal(t, 1, invalidator.calls)
}
