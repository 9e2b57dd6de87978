// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/model"
)

// Key prefixes for BadgerDB storage
const (
	matchKeyPrefix  = "match:"
	arenaSessionKey = "arena_session"
)

// ArenaSession is the persisted arena login state, reused across restarts
// so the adapter does not have to re-authenticate every time.
type ArenaSession struct {
	SessionToken string `json:"session_token"`
}

// BadgerStore implements Persistence plus arena session storage on a
// single BadgerDB instance.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	logging.Info().Str("path", path).Msg("database opened")
	return &BadgerStore{db: db}, nil
}

// Close flushes and closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// SaveMatch writes a recorded match under its var_id.
func (b *BadgerStore) SaveMatch(m *model.RecordedMatch) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(matchKeyPrefix+m.VarID), data)
	})
}

// LoadMatch reads a recorded match by var_id.
func (b *BadgerStore) LoadMatch(varID string) (*model.RecordedMatch, error) {
	var m model.RecordedMatch
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(matchKeyPrefix + varID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
		}
		if err != nil {
			return fmt.Errorf("get match: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMatchIDs returns the var_ids of all stored matches.
func (b *BadgerStore) ListMatchIDs() ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(matchKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, matchKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return ids, nil
}

// SaveArenaSession persists the arena login token.
func (b *BadgerStore) SaveArenaSession(s ArenaSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal arena session: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(arenaSessionKey), data)
	})
}

// LoadArenaSession reads the persisted arena login token. A missing key
// yields an empty session, not an error.
func (b *BadgerStore) LoadArenaSession() (ArenaSession, error) {
	var s ArenaSession
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(arenaSessionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get arena session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if err != nil {
		return ArenaSession{}, err
	}
	return s, nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Trace().Msgf("badger: "+strings.TrimSpace(format), args...)
}
