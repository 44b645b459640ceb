package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/clock"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/boltdb"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

var (
	bucketReservations = []byte("reservations")
	bucketByRequest    = []byte("reservations_by_request")
)

type record struct {
	RequestID string    `json:"request_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r record) live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// BoltStore keeps reservations in an embedded bbolt database. Every Reserve
// runs in a single write transaction, which bbolt serializes.
type BoltStore struct {
	db      *bbolt.DB
	clock   clock.Clock
	metrics Metrics
	logger  *zap.Logger
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore creates the reservation buckets in db.
func NewBoltStore(db *bbolt.DB, clk clock.Clock, metrics Metrics, logger *zap.Logger) (*BoltStore, error) {
	if err := boltdb.EnsureBuckets(db, bucketReservations, bucketByRequest); err != nil {
		return nil, fmt.Errorf("reservation: %w", err)
	}
	return &BoltStore{db: db, clock: clk, metrics: metrics, logger: logger}, nil
}

func indexKey(requestID string, id model.OutputRef) []byte {
	return append(requestPrefix(requestID), id.String()...)
}

func requestPrefix(requestID string) []byte {
	return append([]byte(requestID), 0)
}

func (s *BoltStore) Reserve(_ context.Context, ids []model.OutputRef, requestID string, ttl time.Duration) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("reserve", ignoreConflict(err), started)
	}()

	if err := validate(ids, requestID, ttl); err != nil {
		return err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil
	}

	now := s.clock.Now()
	value, err := json.Marshal(record{RequestID: requestID, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketReservations)
		var held []model.OutputRef
		for _, id := range ids {
			rec, ok, err := getRecord(rb, id)
			if err != nil {
				return err
			}
			if ok && rec.RequestID != requestID && rec.live(now) {
				held = append(held, id)
			}
		}
		if len(held) > 0 {
			return &model.ConflictError{Held: held}
		}

		ib := tx.Bucket(bucketByRequest)
		for _, id := range ids {
			if err := rb.Put([]byte(id.String()), value); err != nil {
				return fmt.Errorf("put reservation: %w", err)
			}
			if err := ib.Put(indexKey(requestID, id), nil); err != nil {
				return fmt.Errorf("put reservation index: %w", err)
			}
		}
		return nil
	})

	var conflict *model.ConflictError
	if errors.As(err, &conflict) {
		s.metrics.ObserveConflict(len(conflict.Held))
	}
	return err
}

func (s *BoltStore) Release(_ context.Context, requestID string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("release", err, started)
	}()

	if requestID == "" {
		return model.Wrap(model.CodeValidation, errEmptyRequest, "release")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketReservations)
		ib := tx.Bucket(bucketByRequest)
		prefix := requestPrefix(requestID)

		var indexKeys [][]byte
		c := ib.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			indexKeys = append(indexKeys, append([]byte(nil), k...))
		}
		for _, k := range indexKeys {
			outputKey := k[len(prefix):]
			data := rb.Get(outputKey)
			if data != nil {
				var rec record
				if err := json.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("decode reservation %s: %w", outputKey, err)
				}
				if rec.RequestID == requestID {
					if err := rb.Delete(outputKey); err != nil {
						return fmt.Errorf("delete reservation: %w", err)
					}
				}
			}
			if err := ib.Delete(k); err != nil {
				return fmt.Errorf("delete reservation index: %w", err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Owner(_ context.Context, id model.OutputRef) (owner string, found bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("owner", err, started)
	}()

	now := s.clock.Now()
	err = s.db.View(func(tx *bbolt.Tx) error {
		rec, ok, err := getRecord(tx.Bucket(bucketReservations), id)
		if err != nil {
			return err
		}
		if ok && rec.live(now) {
			owner, found = rec.RequestID, true
		}
		return nil
	})
	return owner, found, err
}

// Sweep deletes expired reservations and index entries that no longer point
// at a reservation of their request. It returns the number of reservations removed.
func (s *BoltStore) Sweep() (removed int, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("sweep", err, started)
	}()

	now := s.clock.Now()
	err = s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketReservations)
		ib := tx.Bucket(bucketByRequest)

		var expired [][]byte
		if err := rb.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode reservation %s: %w", k, err)
			}
			if !rec.live(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := rb.Delete(k); err != nil {
				return fmt.Errorf("delete reservation: %w", err)
			}
		}
		removed = len(expired)

		var stale [][]byte
		if err := ib.ForEach(func(k, _ []byte) error {
			sep := bytes.IndexByte(k, 0)
			if sep < 0 {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			data := rb.Get(k[sep+1:])
			if data == nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			var rec record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode reservation %s: %w", k[sep+1:], err)
			}
			if rec.RequestID != string(k[:sep]) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := ib.Delete(k); err != nil {
				return fmt.Errorf("delete reservation index: %w", err)
			}
		}
		return nil
	})
	return removed, err
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *BoltStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep()
			if err != nil {
				s.logger.Error("reservation sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Debug("expired reservations swept", zap.Int("removed", removed))
			}
		}
	}
}

func getRecord(b *bbolt.Bucket, id model.OutputRef) (record, bool, error) {
	data := b.Get([]byte(id.String()))
	if data == nil {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return rec, true, nil
}
