package objectstore

import (
	"context"
	"errors"

	memdb "github.com/hashicorp/go-memdb"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"object": {
			Name: "object",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"bucket": {
					Name:    "bucket",
					Indexer: &memdb.StringFieldIndex{Field: "Bucket"},
				},
			},
		},
	},
}

// MemObject is one stored object. Contents is never mutated after insert.
type MemObject struct {
	ID          string
	Bucket      string
	Key         string
	ContentType string
	Contents    []byte
}

// Memstore is an in-memory object store, used for local runs and tests.
type Memstore struct {
	db *memdb.MemDB
}

func NewMemstore() (*Memstore, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &Memstore{db: db}, nil
}

func objectID(bucket, key string) string { return bucket + "/" + key }

func (m *Memstore) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.Get(bucket, key)
	if err != nil {
		return nil, wrap("fetch", bucket, key, ErrTransient, err)
	}
	if obj == nil {
		return nil, wrap("fetch", bucket, key, ErrNotFound, errors.New("no such key"))
	}
	out := make([]byte, len(obj.Contents))
	copy(out, obj.Contents)
	return out, nil
}

// Put overwrites any object already stored under bucket/key.
func (m *Memstore) Put(ctx context.Context, bucket, key, contentType string, payload []byte) error {
	contents := make([]byte, len(payload))
	copy(contents, payload)

	txn := m.db.Txn(true)
	defer txn.Abort()
	err := txn.Insert("object", &MemObject{
		ID:          objectID(bucket, key),
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Contents:    contents,
	})
	if err != nil {
		return wrap("put", bucket, key, ErrTransient, err)
	}
	txn.Commit()
	return nil
}

// Get returns the stored object, or nil when there is none.
func (m *Memstore) Get(bucket, key string) (*MemObject, error) {
	txn := m.db.Txn(false)
	res, err := txn.First("object", "id", objectID(bucket, key))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(*MemObject), nil
}

// Keys lists the keys stored in bucket.
func (m *Memstore) Keys(bucket string) ([]string, error) {
	txn := m.db.Txn(false)
	it, err := txn.Get("object", "bucket", bucket)
	if err != nil {
		return nil, err
	}
	var keys []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		keys = append(keys, raw.(*MemObject).Key)
	}
	return keys, nil
}
