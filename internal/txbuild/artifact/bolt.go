package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/clock"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/boltdb"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

var (
	bucketArtifacts = []byte("artifacts")
	bucketClaims    = []byte("artifact_claims")
	bucketFinalized = []byte("artifact_finalized")
)

type expiring struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Artifact  *model.Artifact `json:"artifact,omitempty"`
	TxHash    string          `json:"tx_hash,omitempty"`
}

func (e expiring) live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// BoltStore keeps artifacts in an embedded bbolt database; expiry is checked on read.
type BoltStore struct {
	db        *bbolt.DB
	clock     clock.Clock
	retention time.Duration
	metrics   Metrics
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore creates the artifact buckets in db.
func NewBoltStore(db *bbolt.DB, clk clock.Clock, retention time.Duration, metrics Metrics) (*BoltStore, error) {
	if err := boltdb.EnsureBuckets(db, bucketArtifacts, bucketClaims, bucketFinalized); err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	if retention <= 0 {
		retention = DefaultFinalizedRetention
	}
	return &BoltStore{db: db, clock: clk, retention: retention, metrics: metrics}, nil
}

func (s *BoltStore) Open(_ context.Context, requestID string, ttl time.Duration) (ok bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("open", err, started)
	}()

	now := s.clock.Now()
	err = s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketArtifacts, bucketFinalized} {
			e, found, err := get(tx.Bucket(name), requestID)
			if err != nil {
				return err
			}
			if found && e.live(now) {
				return nil
			}
		}
		ok = true
		return put(tx.Bucket(bucketArtifacts), requestID, expiring{ExpiresAt: now.Add(ttl)})
	})
	return ok, err
}

func (s *BoltStore) Save(_ context.Context, a model.Artifact, ttl time.Duration) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("save", err, started)
	}()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketArtifacts), a.RequestID, expiring{ExpiresAt: s.clock.Now().Add(ttl), Artifact: &a})
	})
}

func (s *BoltStore) Load(_ context.Context, requestID string) (a model.Artifact, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("load", err, started)
	}()

	now := s.clock.Now()
	err = s.db.View(func(tx *bbolt.Tx) error {
		e, ok, err := get(tx.Bucket(bucketArtifacts), requestID)
		if err != nil {
			return err
		}
		if !ok || !e.live(now) || e.Artifact == nil {
			return fmt.Errorf("request %s: %w", requestID, model.ErrArtifactNotFound)
		}
		a = *e.Artifact
		return nil
	})
	return a, err
}

func (s *BoltStore) Delete(_ context.Context, requestID string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("delete", err, started)
	}()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArtifacts).Delete([]byte(requestID))
	})
}

func (s *BoltStore) Claim(_ context.Context, requestID string, ttl time.Duration) (ok bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("claim", err, started)
	}()

	now := s.clock.Now()
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClaims)
		e, found, err := get(b, requestID)
		if err != nil {
			return err
		}
		if found && e.live(now) {
			return nil
		}
		ok = true
		return put(b, requestID, expiring{ExpiresAt: now.Add(ttl)})
	})
	return ok, err
}

func (s *BoltStore) Unclaim(_ context.Context, requestID string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("unclaim", err, started)
	}()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClaims).Delete([]byte(requestID))
	})
}

func (s *BoltStore) MarkFinalized(_ context.Context, requestID, txHash string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("mark_finalized", err, started)
	}()

	return s.db.Update(func(tx *bbolt.Tx) error {
		e := expiring{ExpiresAt: s.clock.Now().Add(s.retention), TxHash: txHash}
		if err := put(tx.Bucket(bucketFinalized), requestID, e); err != nil {
			return err
		}
		if err := tx.Bucket(bucketArtifacts).Delete([]byte(requestID)); err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}
		return tx.Bucket(bucketClaims).Delete([]byte(requestID))
	})
}

func (s *BoltStore) Finalized(_ context.Context, requestID string) (txHash string, found bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("finalized", err, started)
	}()

	now := s.clock.Now()
	err = s.db.View(func(tx *bbolt.Tx) error {
		e, ok, err := get(tx.Bucket(bucketFinalized), requestID)
		if err != nil {
			return err
		}
		if ok && e.live(now) {
			txHash, found = e.TxHash, true
		}
		return nil
	})
	return txHash, found, err
}

// Sweep removes expired artifacts, claims and finalize records.
func (s *BoltStore) Sweep() (removed int, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("sweep", err, started)
	}()

	now := s.clock.Now()
	err = s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketArtifacts, bucketClaims, bucketFinalized} {
			b := tx.Bucket(name)
			var expired [][]byte
			if err := b.ForEach(func(k, v []byte) error {
				var e expiring
				if err := json.Unmarshal(v, &e); err != nil {
					return fmt.Errorf("decode %s/%s: %w", name, k, err)
				}
				if !e.live(now) {
					expired = append(expired, append([]byte(nil), k...))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, k := range expired {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("delete %s/%s: %w", name, k, err)
				}
			}
			removed += len(expired)
		}
		return nil
	})
	return removed, err
}

func put(b *bbolt.Bucket, key string, e expiring) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.Put([]byte(key), data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func get(b *bbolt.Bucket, key string) (expiring, bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return expiring{}, false, nil
	}
	var e expiring
	if err := json.Unmarshal(data, &e); err != nil {
		return expiring{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, true, nil
}
