package models

// These structs define the payloads of the events that trigger stage
// handlers: object-store notifications for Extract and record change
// notifications for Classify and Summarize. Both may be delivered more than
// once; handlers must tolerate duplicates and replays.

import (
	"fmt"
	"path"
	"strings"
)

// StorageEvent is the payload of an object-store notification for a newly
// stored object.
type StorageEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// DocumentKeyPrefix is the object-store prefix under which uploaded documents
// are stored. Keys follow the convention documents/<documentId>.<ext>.
const DocumentKeyPrefix = "documents/"

// DocumentID resolves the document id encoded in the event's object key.
func (e StorageEvent) DocumentID() (string, error) {
	if !strings.HasPrefix(e.Name, DocumentKeyPrefix) {
		return "", fmt.Errorf("object key %q is not under %q", e.Name, DocumentKeyPrefix)
	}
	base := strings.TrimPrefix(e.Name, DocumentKeyPrefix)
	if base == "" || strings.Contains(base, "/") {
		return "", fmt.Errorf("object key %q does not encode a document id", e.Name)
	}
	id := strings.TrimSuffix(base, path.Ext(base))
	if id == "" {
		return "", fmt.Errorf("object key %q does not encode a document id", e.Name)
	}
	return id, nil
}

// StorageKeyFor builds the object key for a document id and original file
// name, preserving the original extension when present.
func StorageKeyFor(documentID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return DocumentKeyPrefix + documentID + ext
}

// EventType discriminates record change notifications.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventModify EventType = "MODIFY"
	EventRemove EventType = "REMOVE"
)

// ChangeKeys identifies the record a change notification refers to.
type ChangeKeys struct {
	DocumentID string `json:"documentId"`
}

// ChangeNotification describes one transition of a document record, emitted
// by the record store after every successful write. OldImage is best effort:
// not every store implementation can supply the previous record image.
type ChangeNotification struct {
	EventType EventType       `json:"eventType"`
	Keys      ChangeKeys      `json:"keys"`
	OldImage  *DocumentRecord `json:"oldImage,omitempty"`
	NewImage  *DocumentRecord `json:"newImage,omitempty"`
}
