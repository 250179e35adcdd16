// Package audit keeps an append-only journal of settled games and jackpot
// rounds on local disk.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"stakeplay-backend/internal/models"
)

var ErrNotFound = errors.New("audit record not found")

const (
	prefixGame       = "game/"
	prefixCommitment = "commitment/"
	prefixRound      = "round/"
)

type Journal struct {
	db *badger.DB
}

func Open(dir string) (*Journal, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenInMemory is used by tests and the memory store profile.
func OpenInMemory() (*Journal, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Journal, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func gameKey(rec *models.GameRecord) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", prefixGame, rec.UserID, rec.SettledAt.UnixNano(), rec.CommitmentID))
}

// AppendGame writes rec once. A second append for the same commitment is a
// no-op so a retried settlement never duplicates the trail.
func (j *Journal) AppendGame(rec *models.GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		idx := []byte(prefixCommitment + rec.CommitmentID)
		if _, err := txn.Get(idx); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(gameKey(rec), data); err != nil {
			return err
		}
		return txn.Set(idx, data)
	})
}

func (j *Journal) GameByCommitment(commitmentID string) (*models.GameRecord, error) {
	var rec models.GameRecord
	if err := j.get([]byte(prefixCommitment+commitmentID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Games returns a user's journaled games, newest first.
func (j *Journal) Games(userID string, limit int) ([]*models.GameRecord, error) {
	out := []*models.GameRecord{}
	prefix := []byte(prefixGame + userID + "/")

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks from the last possible key under prefix
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec models.GameRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

func (j *Journal) AppendRound(r *models.JackpotRound) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRound+r.ID), data)
	})
}

func (j *Journal) Round(id string) (*models.JackpotRound, error) {
	var r models.JackpotRound
	if err := j.get([]byte(prefixRound+id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (j *Journal) get(key []byte, v any) error {
	return j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (j *Journal) Close() error {
	return j.db.Close()
}
