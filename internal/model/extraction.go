package model

// Entity class vocabulary produced by the extraction pipeline.
const (
	EntityMedication = "medication"
	EntityCondition  = "condition"
	EntityLabResult  = "lab_result"
	EntityVital      = "vital"
	EntityProcedure  = "procedure"
	EntityAllergy    = "allergy"
	EntityProvider   = "provider"
	EntityDosage     = "dosage"
	EntityRoute      = "route"
	EntityFrequency  = "frequency"
	EntityDuration   = "duration"
)

// ExtractedEntity is a single candidate clinical fact awaiting confirmation.
// Immutable once produced; selection state lives in the review workflow, never
// here. LocalID is assigned client-side so selections survive list reordering.
type ExtractedEntity struct {
	Attributes  map[string]string `json:"attributes"`
	LocalID     string            `json:"-"`
	EntityClass string            `json:"entity_class"`
	Text        string            `json:"text"`
	StartPos    *int              `json:"start_pos"`
	EndPos      *int              `json:"end_pos"`
	Confidence  float64           `json:"confidence"`
}

// ExtractionResult is the AI pipeline's output for one upload. Each poll
// replaces the previous result wholesale; the latest server response is
// authoritative.
type ExtractionResult struct {
	UploadID             string            `json:"upload_id"`
	Status               UploadStatus      `json:"status"`
	ExtractedTextPreview string            `json:"extracted_text_preview,omitempty"`
	Error                string            `json:"error,omitempty"`
	Entities             []ExtractedEntity `json:"entities"`
}

// ProgressSnapshot holds aggregate counts across all extractions in flight.
// Recomputed on every poll tick, never persisted.
type ProgressSnapshot struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Processing     int `json:"processing"`
	Failed         int `json:"failed"`
	Pending        int `json:"pending"`
	RecordsCreated int `json:"records_created"`
}

// Percent returns overall completion as 0-100, counting failed jobs as done.
func (p ProgressSnapshot) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed+p.Failed) / float64(p.Total) * 100
}

// AllDone reports whether nothing is still processing and work existed.
func (p ProgressSnapshot) AllDone() bool {
	return p.Processing == 0 && p.Total > 0
}

// Patient is an entry from the patient list confirmed records attach to.
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
