package orders

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/imrishuroy/tshirt-orderflow/internal/objectstore"
)

// DataFile is the object name holding a record inside its order prefix.
const DataFile = "data.json"

// JSONObjects is the object store surface BlobStore needs.
type JSONObjects interface {
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, v any) error
	ListKeys(ctx context.Context, prefix string) iter.Seq2[string, error]
	Delete(ctx context.Context, key string) error
}

// BlobStore keeps each record as JSON at "custom-tshirt/{id}/data.json" in
// the asset bucket instead of a table. Scans read every record; patches are
// read-modify-write and race with concurrent writers.
type BlobStore struct {
	objects JSONObjects
	nowFunc func() time.Time
}

// NewBlobStore returns a BlobStore over objects.
func NewBlobStore(objects JSONObjects) *BlobStore {
	return &BlobStore{objects: objects, nowFunc: time.Now}
}

func dataKey(id string) string {
	return Prefix(id) + "/" + DataFile
}

// Put writes rec unconditionally.
func (s *BlobStore) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("put record: record id is empty")
	}
	if err := s.objects.PutJSON(ctx, dataKey(rec.ID), rec); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Get fetches a record by id. Returns (nil, nil) if not found.
func (s *BlobStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.objects.GetJSON(ctx, dataKey(id), &rec)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record document. Deleting a missing record is not an error.
func (s *BlobStore) Delete(ctx context.Context, id string) error {
	if err := s.objects.Delete(ctx, dataKey(id)); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Patch applies p to the stored record. Returns ErrNotFound if it does not exist.
func (s *BlobStore) Patch(ctx context.Context, id string, p Patch) error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	p.Apply(rec, s.nowFunc())
	return s.Put(ctx, *rec)
}

// Scan loads every record document and keeps those matching fs.
func (s *BlobStore) Scan(ctx context.Context, fs FilterSet) ([]Record, error) {
	if fs.Len() == 0 {
		return nil, ErrEmptyFilter
	}
	var out []Record
	for key, err := range s.objects.ListKeys(ctx, PrefixRoot+"/") {
		if err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		if !strings.HasSuffix(key, "/"+DataFile) {
			continue
		}
		var rec Record
		if err := s.objects.GetJSON(ctx, key, &rec); err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				// deleted since listing
				continue
			}
			return nil, fmt.Errorf("scan records: %w", err)
		}
		if fs.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}
