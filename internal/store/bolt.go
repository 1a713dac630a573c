package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"widget-studio/internal/widget"
)

var (
	bucketWidgets = []byte("widgets")
	bucketBundles = []byte("bundles")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWidgets, bucketBundles} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// CreateWidget stores w under a new ID outside any bundle.
func (s *BoltStore) CreateWidget(ctx context.Context, w *widget.Widget) (string, error) {
	return s.InBundle("").CreateWidget(ctx, w)
}

// UpdateWidget replaces the stored widget with w.ID.
func (s *BoltStore) UpdateWidget(ctx context.Context, w *widget.Widget) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.ID == "" {
		return fmt.Errorf("update widget: empty id: %w", ErrNotFound)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWidgets)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketWidgets)
		}
		data := b.Get([]byte(w.ID))
		if data == nil {
			return fmt.Errorf("widget %s: %w", w.ID, ErrNotFound)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Widget = w.Clone()
		rec.UpdatedAt = s.now()
		return putRecord(b, &rec)
	})
}

func (s *BoltStore) GetWidget(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWidgets)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketWidgets)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("widget %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListWidgets returns all widgets ordered by name.
func (s *BoltStore) ListWidgets() ([]*Record, error) {
	var recs []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWidgets)
		if b == nil {
			return nil // no bucket = no widgets
		}
		recs = make([]*Record, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Widget.Name < recs[j].Widget.Name
	})
	return recs, err
}

func (s *BoltStore) DeleteWidget(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWidgets)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketWidgets)
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("widget %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) SaveBundle(bundle *Bundle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketBundles)
		}
		data, err := json.Marshal(bundle)
		if err != nil {
			return err
		}
		return b.Put([]byte(bundle.Alias), data)
	})
}

func (s *BoltStore) GetBundle(alias string) (*Bundle, error) {
	var bundle Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketBundles)
		}
		data := b.Get([]byte(alias))
		if data == nil {
			return fmt.Errorf("bundle %s: %w", alias, ErrNotFound)
		}
		return json.Unmarshal(data, &bundle)
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *BoltStore) ListBundles() ([]*Bundle, error) {
	var bundles []*Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var bundle Bundle
			if err := json.Unmarshal(v, &bundle); err != nil {
				return err
			}
			bundles = append(bundles, &bundle)
			return nil
		})
	})
	return bundles, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// InBundle returns a commit target that files new widgets under alias.
func (s *BoltStore) InBundle(alias string) *BundleWriter {
	return &BundleWriter{s: s, alias: alias}
}

// BundleWriter creates widgets inside one bundle and updates existing ones.
type BundleWriter struct {
	s     *BoltStore
	alias string
}

func (bw *BundleWriter) CreateWidget(ctx context.Context, w *widget.Widget) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := bw.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWidgets)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketWidgets)
		}
		stored := w.Clone()
		stored.ID = id
		now := bw.s.now()
		return putRecord(b, &Record{
			Widget:      stored,
			BundleAlias: bw.alias,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (bw *BundleWriter) UpdateWidget(ctx context.Context, w *widget.Widget) error {
	return bw.s.UpdateWidget(ctx, w)
}

func putRecord(b *bolt.Bucket, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Widget.ID), data)
}
