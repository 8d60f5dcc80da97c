package credstore

import (
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bktAuth = []byte("auth")

	boltAccessKey  = []byte("access_token")
	boltRefreshKey = []byte("refresh_token")
)

// BoltStore keeps the credential pair in a bbolt file, for deployments without
// Redis. Both keys are written in one Update transaction, so a reader sees
// either the old pair or the new pair.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the credential file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(ErrStorage, err.Error())
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bktAuth)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(ErrStorage, err.Error())
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Access(ctx context.Context) (string, error) {
	return s.get(boltAccessKey)
}

func (s *BoltStore) Refresh(ctx context.Context) (string, error) {
	return s.get(boltRefreshKey)
}

func (s *BoltStore) get(key []byte) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bktAuth).Get(key); v != nil {
			val = string(v)
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(ErrStorage, err.Error())
	}
	return val, nil
}

func (s *BoltStore) SetPair(ctx context.Context, access, refresh string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktAuth)
		if err := b.Put(boltAccessKey, []byte(access)); err != nil {
			return err
		}
		return b.Put(boltRefreshKey, []byte(refresh))
	})
	if err != nil {
		return errors.Wrap(ErrStorage, err.Error())
	}
	return nil
}

func (s *BoltStore) Clear(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktAuth)
		if err := b.Delete(boltAccessKey); err != nil {
			return err
		}
		return b.Delete(boltRefreshKey)
	})
	if err != nil {
		return errors.Wrap(ErrStorage, err.Error())
	}
	return nil
}
