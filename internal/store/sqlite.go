package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// Schema for the documents and document_changes tables. Applied by Init().
// document_changes is the durable change feed: every successful write appends
// one row in the same transaction, and Watch tails the table by seq.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	status TEXT NOT NULL,
	ocr_results TEXT,
	classification TEXT,
	summary TEXT,
	error_message TEXT,
	upload_timestamp TEXT NOT NULL,
	completed_timestamp TEXT
);
CREATE TABLE IF NOT EXISTS document_changes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	old_image TEXT,
	new_image TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_upload_ts ON documents(upload_timestamp);
`

// SQLiteStore is a single-node RecordStore for deployments without
// Firestore. The conditional update is a transaction that re-reads the
// status row before writing; the change feed is polled from the
// document_changes table.
type SQLiteStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteStore opens (or reuses) a SQLite database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, pollInterval: 250 * time.Millisecond}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var _ RecordStore = (*SQLiteStore)(nil)

// Init creates the tables if they don't exist.
func (s *SQLiteStore) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts the initial record and its INSERT change row.
func (s *SQLiteStore) Create(ctx context.Context, rec *models.DocumentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents WHERE document_id = ?`, rec.DocumentID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check existing document: %w", err)
	}
	if exists > 0 {
		return ErrAlreadyExists
	}
	if err := insertRecord(ctx, tx, rec); err != nil {
		return err
	}
	if err := appendChange(ctx, tx, models.EventInsert, nil, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the current record image.
func (s *SQLiteStore) Get(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM documents WHERE document_id = ?`, documentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns all records, newest upload first.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM documents ORDER BY upload_timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []*models.DocumentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update applies the patch iff the stored status equals expected, appending
// a MODIFY change row in the same transaction.
func (s *SQLiteStore) Update(ctx context.Context, documentID string, patch Patch, expected models.Status) (*models.DocumentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectColumns+` FROM documents WHERE document_id = ?`, documentID)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if current.Status != expected {
		return nil, ErrConflict
	}

	old := current.Clone()
	patch.apply(current)
	if err := updateRecord(ctx, tx, current); err != nil {
		return nil, err
	}
	if err := appendChange(ctx, tx, models.EventModify, old, current); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return current, nil
}

// Watch tails the document_changes table. The subscriber starts at the
// current head of the feed; each poll delivers rows appended since the last
// observed seq. The channel closes when ctx is cancelled.
func (s *SQLiteStore) Watch(ctx context.Context) (<-chan models.ChangeNotification, error) {
	var lastSeq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM document_changes`).Scan(&lastSeq)
	if err != nil {
		return nil, fmt.Errorf("read feed head: %w", err)
	}

	out := make(chan models.ChangeNotification, 256)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			next, err := s.deliverSince(ctx, lastSeq, out)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("change feed poll failed", "error", err)
				}
				continue
			}
			lastSeq = next
		}
	}()
	return out, nil
}

func (s *SQLiteStore) deliverSince(ctx context.Context, after int64, out chan<- models.ChangeNotification) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, document_id, event_type, old_image, new_image FROM document_changes WHERE seq > ? ORDER BY seq`, after)
	if err != nil {
		return after, err
	}
	defer rows.Close()
	last := after
	for rows.Next() {
		var (
			seq                int64
			id, eventType      string
			oldImage, newImage sql.NullString
		)
		if err := rows.Scan(&seq, &id, &eventType, &oldImage, &newImage); err != nil {
			return last, err
		}
		n := models.ChangeNotification{
			EventType: models.EventType(eventType),
			Keys:      models.ChangeKeys{DocumentID: id},
		}
		if oldImage.Valid {
			n.OldImage = new(models.DocumentRecord)
			if err := json.Unmarshal([]byte(oldImage.String), n.OldImage); err != nil {
				return last, fmt.Errorf("decode old image seq %d: %w", seq, err)
			}
		}
		if newImage.Valid {
			n.NewImage = new(models.DocumentRecord)
			if err := json.Unmarshal([]byte(newImage.String), n.NewImage); err != nil {
				return last, fmt.Errorf("decode new image seq %d: %w", seq, err)
			}
		}
		select {
		case out <- n:
			last = seq
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
	return last, rows.Err()
}

const selectColumns = `SELECT document_id, file_name, storage_key, status, ocr_results, classification, summary, error_message, upload_timestamp, completed_timestamp`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.DocumentRecord, error) {
	var (
		fields                             = make(map[string]interface{})
		id, fileName, storageKey, st, upTS string
		ocr, class, summary, errMsg, doneTS sql.NullString
	)
	if err := row.Scan(&id, &fileName, &storageKey, &st, &ocr, &class, &summary, &errMsg, &upTS, &doneTS); err != nil {
		return nil, err
	}
	fields["documentId"] = id
	fields["fileName"] = fileName
	fields["storageKey"] = storageKey
	fields["status"] = st
	fields["uploadTimestamp"] = upTS
	if ocr.Valid {
		fields["ocrResults"] = ocr.String
	}
	if class.Valid {
		fields["classification"] = class.String
	}
	if summary.Valid {
		fields["summary"] = summary.String
	}
	if errMsg.Valid {
		fields["errorMessage"] = errMsg.String
	}
	if doneTS.Valid {
		fields["completedTimestamp"] = doneTS.String
	}
	return decodeRecord(fields)
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec *models.DocumentRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents
		(document_id, file_name, storage_key, status, ocr_results, classification, summary, error_message, upload_timestamp, completed_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", rec.DocumentID, err)
	}
	return nil
}

func updateRecord(ctx context.Context, tx *sql.Tx, rec *models.DocumentRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	// Shift document_id to the WHERE position.
	args = append(args[1:], args[0])
	_, err = tx.ExecContext(ctx, `UPDATE documents SET
		file_name = ?, storage_key = ?, status = ?, ocr_results = ?, classification = ?, summary = ?, error_message = ?, upload_timestamp = ?, completed_timestamp = ?
		WHERE document_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", rec.DocumentID, err)
	}
	return nil
}

func recordArgs(rec *models.DocumentRecord) ([]interface{}, error) {
	fields, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	nullable := func(key string) interface{} {
		if v, ok := fields[key]; ok {
			return v
		}
		return nil
	}
	var doneTS interface{}
	if rec.CompletedTimestamp != nil {
		doneTS = rec.CompletedTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return []interface{}{
		rec.DocumentID,
		rec.FileName,
		rec.StorageKey,
		string(rec.Status),
		nullable("ocrResults"),
		nullable("classification"),
		nullable("summary"),
		nullable("errorMessage"),
		rec.UploadTimestamp.UTC().Format(time.RFC3339Nano),
		doneTS,
	}, nil
}

func appendChange(ctx context.Context, tx *sql.Tx, eventType models.EventType, prev, curr *models.DocumentRecord) error {
	encode := func(rec *models.DocumentRecord) (interface{}, error) {
		if rec == nil {
			return nil, nil
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	oldImage, err := encode(prev)
	if err != nil {
		return fmt.Errorf("encode old image: %w", err)
	}
	newImage, err := encode(curr)
	if err != nil {
		return fmt.Errorf("encode new image: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO document_changes
		(document_id, event_type, old_image, new_image, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		curr.DocumentID, string(eventType), oldImage, newImage, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append change row: %w", err)
	}
	return nil
}
