package models

import (
	"fmt"
	"time"
)

// Status is the processing state of a document record. Statuses advance in a
// fixed order; the only transition out of order is the failure shortcut to
// StatusCompleted with ErrorMessage set.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusOCRComplete Status = "ocr-complete"
	StatusClassified  Status = "classified"
	StatusCompleted   Status = "completed"
)

// statusRank orders statuses for the no-regression invariant.
var statusRank = map[Status]int{
	StatusUploaded:    0,
	StatusOCRComplete: 1,
	StatusClassified:  2,
	StatusCompleted:   3,
}

// Rank returns the position of s in the pipeline order, or -1 for an unknown
// status.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool { return s == StatusCompleted }

// OCRResult is the structured output of the extraction stage. It is written
// once when the record moves to StatusOCRComplete and never mutated afterward.
type OCRResult struct {
	Text          string            `json:"text"`
	KeyValuePairs map[string]string `json:"keyValuePairs"`
}

// Classification is the output of the classification stage.
type Classification struct {
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// DocumentRecord is the durable per-document state. It is owned exclusively by
// the pipeline and mutated only through the stage handlers; the optional
// fields are present if and only if the status has reached the owning stage's
// completion status.
type DocumentRecord struct {
	DocumentID         string          `json:"documentId"`
	FileName           string          `json:"fileName"`
	StorageKey         string          `json:"storageKey"`
	Status             Status          `json:"status"`
	OCRResult          *OCRResult      `json:"ocrResults,omitempty"`
	Classification     *Classification `json:"classification,omitempty"`
	Summary            string          `json:"summary,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	UploadTimestamp    time.Time       `json:"uploadTimestamp"`
	CompletedTimestamp *time.Time      `json:"completedTimestamp,omitempty"`
}

// Failed reports whether the record reached StatusCompleted through the
// failure shortcut.
func (r *DocumentRecord) Failed() bool {
	return r.Status == StatusCompleted && r.ErrorMessage != ""
}

// Validate checks the structural invariants of a record: identity fields are
// set, the status is known, and stage-owned fields are present exactly when
// the status says they should be. Records that failed terminally are exempt
// from the presence checks for stages that never ran.
func (r *DocumentRecord) Validate() error {
	if r.DocumentID == "" {
		return fmt.Errorf("document record missing documentId")
	}
	if r.FileName == "" || r.StorageKey == "" {
		return fmt.Errorf("document %s missing provenance fields", r.DocumentID)
	}
	rank := r.Status.Rank()
	if rank < 0 {
		return fmt.Errorf("document %s has unknown status %q", r.DocumentID, r.Status)
	}
	if r.UploadTimestamp.IsZero() {
		return fmt.Errorf("document %s missing uploadTimestamp", r.DocumentID)
	}
	if r.Failed() {
		return nil
	}
	if present := r.OCRResult != nil; present != (rank >= StatusOCRComplete.Rank()) {
		return fmt.Errorf("document %s: ocrResults presence inconsistent with status %q", r.DocumentID, r.Status)
	}
	if present := r.Classification != nil; present != (rank >= StatusClassified.Rank()) {
		return fmt.Errorf("document %s: classification presence inconsistent with status %q", r.DocumentID, r.Status)
	}
	if present := r.Summary != ""; present != (rank >= StatusCompleted.Rank()) {
		return fmt.Errorf("document %s: summary presence inconsistent with status %q", r.DocumentID, r.Status)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *DocumentRecord) Clone() *DocumentRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.OCRResult != nil {
		ocr := *r.OCRResult
		if r.OCRResult.KeyValuePairs != nil {
			ocr.KeyValuePairs = make(map[string]string, len(r.OCRResult.KeyValuePairs))
			for k, v := range r.OCRResult.KeyValuePairs {
				ocr.KeyValuePairs[k] = v
			}
		}
		out.OCRResult = &ocr
	}
	if r.Classification != nil {
		c := *r.Classification
		out.Classification = &c
	}
	if r.CompletedTimestamp != nil {
		t := *r.CompletedTimestamp
		out.CompletedTimestamp = &t
	}
	return &out
}
