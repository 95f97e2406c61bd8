package store

// The persisted record layout keeps the structured sub-documents
// (ocrResults, classification) as JSON strings nested one level under the
// record, matching the layout the query API and the stage handlers were
// built against. The codec is shared by the Firestore and SQLite stores so
// a record written by one decodes identically from the other.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// encodeRecord flattens a record into the persisted field map.
func encodeRecord(rec *models.DocumentRecord) (map[string]interface{}, error) {
	fields := map[string]interface{}{
		"documentId":      rec.DocumentID,
		"fileName":        rec.FileName,
		"storageKey":      rec.StorageKey,
		"status":          string(rec.Status),
		"uploadTimestamp": rec.UploadTimestamp.UTC(),
	}
	if rec.OCRResult != nil {
		s, err := marshalSubDocument(rec.OCRResult)
		if err != nil {
			return nil, fmt.Errorf("encode ocrResults: %w", err)
		}
		fields["ocrResults"] = s
	}
	if rec.Classification != nil {
		s, err := marshalSubDocument(rec.Classification)
		if err != nil {
			return nil, fmt.Errorf("encode classification: %w", err)
		}
		fields["classification"] = s
	}
	if rec.Summary != "" {
		fields["summary"] = rec.Summary
	}
	if rec.ErrorMessage != "" {
		fields["errorMessage"] = rec.ErrorMessage
	}
	if rec.CompletedTimestamp != nil {
		fields["completedTimestamp"] = rec.CompletedTimestamp.UTC()
	}
	return fields, nil
}

// decodeRecord rebuilds a record from the persisted field map.
func decodeRecord(fields map[string]interface{}) (*models.DocumentRecord, error) {
	rec := &models.DocumentRecord{
		DocumentID: stringField(fields, "documentId"),
		FileName:   stringField(fields, "fileName"),
		StorageKey: stringField(fields, "storageKey"),
		Status:     models.Status(stringField(fields, "status")),
		Summary:    stringField(fields, "summary"),
	}
	rec.ErrorMessage = stringField(fields, "errorMessage")

	ts, err := timeField(fields, "uploadTimestamp")
	if err != nil {
		return nil, err
	}
	if ts != nil {
		rec.UploadTimestamp = *ts
	}
	if rec.CompletedTimestamp, err = timeField(fields, "completedTimestamp"); err != nil {
		return nil, err
	}

	if raw := stringField(fields, "ocrResults"); raw != "" {
		var ocr models.OCRResult
		if err := json.Unmarshal([]byte(raw), &ocr); err != nil {
			return nil, fmt.Errorf("decode ocrResults for %s: %w", rec.DocumentID, err)
		}
		rec.OCRResult = &ocr
	}
	if raw := stringField(fields, "classification"); raw != "" {
		var c models.Classification
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode classification for %s: %w", rec.DocumentID, err)
		}
		rec.Classification = &c
	}
	return rec, nil
}

// marshalSubDocument renders a structured field as its stringified JSON form.
func marshalSubDocument(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func timeField(fields map[string]interface{}, key string) (*time.Time, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		utc := t.UTC()
		return &utc, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		utc := parsed.UTC()
		return &utc, nil
	default:
		return nil, fmt.Errorf("field %s has unexpected type %T", key, v)
	}
}
