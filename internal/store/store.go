// Package store defines the document record store: durable, keyed storage
// for one record per document with a conditional read-modify-write primitive
// and a change feed. The status-equality guard on Update is the pipeline's
// only concurrency-control primitive; every stage handler relies on it for
// single-writer-wins semantics under duplicate trigger delivery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

var (
	// ErrNotFound is returned by Get and Update for unknown document ids.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the document id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict is returned by Update when the stored status does not
	// match the expected status. The write has no effect; callers skip.
	ErrConflict = errors.New("document status conflict")
)

// Patch is the set of fields a stage handler may write in one conditional
// update. Status is always written; nil fields are left untouched.
type Patch struct {
	Status             models.Status
	OCRResult          *models.OCRResult
	Classification     *models.Classification
	Summary            *string
	ErrorMessage       *string
	CompletedTimestamp *time.Time
}

// apply copies the patch onto a record in place.
func (p Patch) apply(rec *models.DocumentRecord) {
	rec.Status = p.Status
	if p.OCRResult != nil {
		rec.OCRResult = p.OCRResult
	}
	if p.Classification != nil {
		rec.Classification = p.Classification
	}
	if p.Summary != nil {
		rec.Summary = *p.Summary
	}
	if p.ErrorMessage != nil {
		rec.ErrorMessage = *p.ErrorMessage
	}
	if p.CompletedTimestamp != nil {
		ts := p.CompletedTimestamp.UTC()
		rec.CompletedTimestamp = &ts
	}
}

// RecordStore is the contract every backing store implements.
//
// Update applies the patch only if the stored status equals expected,
// otherwise it fails with ErrConflict and has no side effect. Every
// successful write emits a change notification carrying the new record
// image; notifications are at-least-once and best-effort ordered per
// document.
type RecordStore interface {
	Create(ctx context.Context, rec *models.DocumentRecord) error
	Get(ctx context.Context, documentID string) (*models.DocumentRecord, error)
	List(ctx context.Context) ([]*models.DocumentRecord, error)
	Update(ctx context.Context, documentID string, patch Patch, expected models.Status) (*models.DocumentRecord, error)
	Watch(ctx context.Context) (<-chan models.ChangeNotification, error)
}
