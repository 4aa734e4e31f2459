package api

import "github.com/healthfolio/folio/internal/model"

// Wire shapes for the health record backend. The exact schema is owned by the
// server; these mirror the subset the client depends on.

// UnstructuredUpload describes one accepted unstructured upload.
type UnstructuredUpload struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	FileType string `json:"file_type,omitempty"`
}

// UploadResponse is returned by the structured upload endpoint. A structured
// file may itself surface embedded unstructured attachments, reported here so
// the dispatcher can register them as extraction candidates without
// re-uploading.
type UploadResponse struct {
	UploadID            string               `json:"upload_id"`
	Status              string               `json:"status"`
	RecordsInserted     int                  `json:"records_inserted"`
	Errors              []string             `json:"errors"`
	UnstructuredUploads []UnstructuredUpload `json:"unstructured_uploads,omitempty"`
}

type batchUploadResponse struct {
	Uploads []UnstructuredUpload `json:"uploads"`
}

// TriggerResult is the per-id outcome of a trigger-extraction call.
type TriggerResult struct {
	UploadID string `json:"upload_id"`
	Status   string `json:"status"`
}

type triggerExtractionRequest struct {
	UploadIDs []string `json:"upload_ids"`
}

type triggerExtractionResponse struct {
	Results []TriggerResult `json:"results"`
}

type pendingExtractionResponse struct {
	Uploads []UnstructuredUpload `json:"uploads"`
}

type confirmExtractionRequest struct {
	ConfirmedEntities []model.ExtractedEntity `json:"confirmed_entities"`
	PatientID         string                  `json:"patient_id"`
}

// ConfirmResponse reports how many permanent records a confirmation created.
type ConfirmResponse struct {
	RecordsCreated int `json:"records_created"`
}

type patientsResponse struct {
	Patients []model.Patient `json:"patients"`
}

type historyItem struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	IngestionStatus string `json:"ingestion_status"`
	FileHash        string `json:"file_hash"`
	RecordCount     int    `json:"record_count"`
	FileSizeBytes   int64  `json:"file_size_bytes"`
	CreatedAt       string `json:"created_at"`
}

type historyResponse struct {
	Items []historyItem `json:"items"`
	Total int           `json:"total"`
}
