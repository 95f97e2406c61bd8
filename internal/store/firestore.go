package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// FirestoreStore is the production RecordStore, one Firestore document per
// record. The conditional update runs in a transaction: read the current
// status, compare against the expected status, write the patch. Firestore
// retries the transaction on contention, so exactly one of two racing
// handlers observes the expected status and wins.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore wraps a Firestore client and collection name.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

var _ RecordStore = (*FirestoreStore)(nil)

func (s *FirestoreStore) doc(documentID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID)
}

// Create writes the initial record, failing if the document id exists.
func (s *FirestoreStore) Create(ctx context.Context, rec *models.DocumentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	fields, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := s.doc(rec.DocumentID).Create(ctx, fields); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrAlreadyExists
		}
		return fmt.Errorf("firestore create %s: %w", rec.DocumentID, err)
	}
	return nil
}

// Get returns the current record image.
func (s *FirestoreStore) Get(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	snap, err := s.doc(documentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get %s: %w", documentID, err)
	}
	return decodeRecord(snap.Data())
}

// List returns all records ordered by upload time, newest first.
func (s *FirestoreStore) List(ctx context.Context) ([]*models.DocumentRecord, error) {
	it := s.client.Collection(s.collection).
		OrderBy("uploadTimestamp", firestore.Desc).
		Documents(ctx)
	var out []*models.DocumentRecord
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list: %w", err)
		}
		rec, err := decodeRecord(snap.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Update applies the patch in a transaction guarded by the expected status.
func (s *FirestoreStore) Update(ctx context.Context, documentID string, patch Patch, expected models.Status) (*models.DocumentRecord, error) {
	var updated *models.DocumentRecord
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc(documentID))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		current, err := decodeRecord(snap.Data())
		if err != nil {
			return err
		}
		if current.Status != expected {
			return ErrConflict
		}
		patch.apply(current)
		fields, err := encodeRecord(current)
		if err != nil {
			return err
		}
		updated = current
		return tx.Set(s.doc(documentID), fields)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("firestore update %s: %w", documentID, err)
	}
	return updated, nil
}

// Watch streams change notifications from Firestore snapshot listeners.
// Firestore does not expose the previous document image, so OldImage is
// always nil here; no stage handler depends on it.
func (s *FirestoreStore) Watch(ctx context.Context) (<-chan models.ChangeNotification, error) {
	out := make(chan models.ChangeNotification, 256)
	snapIt := s.client.Collection(s.collection).Snapshots(ctx)

	go func() {
		defer close(out)
		defer snapIt.Stop()
		for {
			snap, err := snapIt.Next()
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("firestore snapshot listener stopped", "error", err)
				}
				return
			}
			for _, change := range snap.Changes {
				rec, err := decodeRecord(change.Doc.Data())
				if err != nil {
					slog.Error("skipping undecodable change", "error", err)
					continue
				}
				n := models.ChangeNotification{
					Keys:     models.ChangeKeys{DocumentID: rec.DocumentID},
					NewImage: rec,
				}
				switch change.Kind {
				case firestore.DocumentAdded:
					n.EventType = models.EventInsert
				case firestore.DocumentModified:
					n.EventType = models.EventModify
				case firestore.DocumentRemoved:
					n.EventType = models.EventRemove
					n.NewImage = nil
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
