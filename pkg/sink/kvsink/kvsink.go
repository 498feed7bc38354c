// Package kvsink implements the durable, crash-consistent key-value trial
// sink: badger as the storage engine, a write-ahead log in front of it for
// crash consistency independent of badger's own durability, and zstd delta
// encoding for numeric and signal payloads. "Hierarchical" is realized as
// badger key prefixes rather than an actual HDF5 file.
package kvsink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/internal/tscodec"
	"github.com/vjranagit/trialpipe/internal/walcodec"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// Sink is a trial.Sink backed by badger, with a WAL staging every trial
// before it is applied to the database.
type Sink struct {
	mu    sync.Mutex
	db    *badger.DB
	wal   *walcodec.WAL
	codec *tscodec.Codec
}

// Open opens (or creates) the kv sink rooted at dir. Any WAL entries left
// over from a crash between the last WAL append and the matching badger
// write are replayed into badger before Open returns.
func Open(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perrors.Wrapf(perrors.KindSinkFailure, err, "kvsink: create %s", dir)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, "db"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, perrors.Wrapf(perrors.KindSinkFailure, err, "kvsink: open badger at %s", dir)
	}

	codec, err := tscodec.New(tscodec.LevelDefault)
	if err != nil {
		db.Close()
		return nil, perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: create codec")
	}

	s := &Sink{db: db, codec: codec}

	walDir := filepath.Join(dir, "wal")
	if err := walcodec.Replay(walDir, s.apply); err != nil {
		db.Close()
		codec.Close()
		return nil, perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: replay WAL")
	}
	if err := db.Sync(); err != nil {
		db.Close()
		codec.Close()
		return nil, perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: sync after replay")
	}

	w, err := walcodec.Open(walDir)
	if err != nil {
		db.Close()
		codec.Close()
		return nil, perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: open WAL")
	}
	// Everything replayed above is now durably in badger; the WAL only
	// needs to hold entries written after this point.
	if err := w.Truncate(); err != nil {
		w.Close()
		db.Close()
		codec.Close()
		return nil, perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: truncate WAL after replay")
	}
	s.wal = w

	return s, nil
}

// EmitTrial implements trial.Sink. The write (WAL append, flush, apply to
// badger, sync, WAL truncate) is retried once on failure; only a second
// consecutive failure is wrapped as KindSinkFailure, per perrors.Retry's
// single-retry contract.
func (s *Sink) EmitTrial(t *trial.Trial, trialIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return perrors.Retry(perrors.KindSinkFailure, fmt.Sprintf("kvsink: emit trial %d", trialIndex), func() error {
		return s.emitTrialOnce(t, trialIndex)
	})
}

// emitTrialOnce performs one attempt at writing a trial: WAL append,
// flush, apply to badger, sync, then WAL truncate since the entry is now
// durable in badger and no longer needs replaying.
func (s *Sink) emitTrialOnce(t *trial.Trial, trialIndex int) error {
	p, err := encodeTrial(s.codec, t, trialIndex)
	if err != nil {
		return fmt.Errorf("encode trial %d: %w", trialIndex, err)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal trial %d: %w", trialIndex, err)
	}

	if err := s.wal.Append(trialIndex, payload); err != nil {
		return fmt.Errorf("WAL append trial %d: %w", trialIndex, err)
	}
	if err := s.wal.Flush(); err != nil {
		return fmt.Errorf("WAL flush trial %d: %w", trialIndex, err)
	}
	if err := s.apply(trialIndex, payload); err != nil {
		return fmt.Errorf("apply trial %d: %w", trialIndex, err)
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("sync trial %d: %w", trialIndex, err)
	}
	if err := s.wal.Truncate(); err != nil {
		return fmt.Errorf("WAL truncate after trial %d: %w", trialIndex, err)
	}
	return nil
}

// apply decodes a WAL-logged payload and writes its keys to badger. It is
// the shared path for both EmitTrial and WAL replay on startup.
func (s *Sink) apply(trialIndex int, payload []byte) error {
	var p trialPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal trial payload: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for name, np := range p.Numeric {
			data, err := json.Marshal(np)
			if err != nil {
				return err
			}
			if err := txn.Set(numericKey(trialIndex, name), data); err != nil {
				return err
			}
		}
		for name, tp := range p.Text {
			data, err := json.Marshal(tp)
			if err != nil {
				return err
			}
			if err := txn.Set(textKey(trialIndex, name), data); err != nil {
				return err
			}
		}
		for name, sp := range p.Signals {
			data, err := json.Marshal(sp)
			if err != nil {
				return err
			}
			if err := txn.Set(signalKey(trialIndex, name), data); err != nil {
				return err
			}
		}
		// attrs is written last: its presence is what marks the trial
		// complete, so a crash mid-write never leaves a trial that looks
		// readable but is missing datasets.
		attrsData, err := json.Marshal(p.Attrs)
		if err != nil {
			return err
		}
		return txn.Set(attrsKey(trialIndex), attrsData)
	})
}

// ReadTrial reconstructs one trial by index. A trial whose attrs key is
// missing is reported as truncated rather than returned partially built.
func (s *Sink) ReadTrial(trialIndex int) (*trial.Trial, error) {
	var attrs attrsPayload
	numeric := make(map[string]numericPayload)
	text := make(map[string]textPayload)
	signals := make(map[string]signalPayload)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attrsKey(trialIndex))
		if err == badger.ErrKeyNotFound {
			return perrors.New(perrors.KindSinkFailure, fmt.Sprintf("kvsink: trial %d is truncated: missing attrs", trialIndex))
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &attrs) }); err != nil {
			return err
		}

		for _, name := range attrs.NumericNames {
			item, err := txn.Get(numericKey(trialIndex, name))
			if err != nil {
				return err
			}
			var np numericPayload
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &np) }); err != nil {
				return err
			}
			numeric[name] = np
		}
		for _, name := range attrs.TextNames {
			item, err := txn.Get(textKey(trialIndex, name))
			if err != nil {
				return err
			}
			var tp textPayload
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &tp) }); err != nil {
				return err
			}
			text[name] = tp
		}
		for _, name := range attrs.SignalNames {
			item, err := txn.Get(signalKey(trialIndex, name))
			if err != nil {
				return err
			}
			var sp signalPayload
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &sp) }); err != nil {
				return err
			}
			signals[name] = sp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return decodeTrial(s.codec, attrs, numeric, text, signals)
}

// ReadTrials reconstructs every stored trial, in trial-index order.
func (s *Sink) ReadTrials() ([]*trial.Trial, error) {
	var indices []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("trial/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, "/attrs") {
				continue
			}
			parts := strings.Split(key, "/")
			if len(parts) != 3 {
				continue
			}
			idx, err := strconv.Atoi(parts[1])
			if err != nil {
				continue
			}
			indices = append(indices, idx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(indices)

	out := make([]*trial.Trial, 0, len(indices))
	for _, idx := range indices {
		t, err := s.ReadTrial(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateEnhancements rewrites a trial's enhancements and categories without
// touching timing or raw data, the collecter "rewrite" operation.
func (s *Sink) UpdateEnhancements(trialIndex int, enhancements map[string]interface{}, categories map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(attrsKey(trialIndex))
		if err != nil {
			return err
		}
		var attrs attrsPayload
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &attrs) }); err != nil {
			return err
		}
		attrs.Enhancements = enhancements
		attrs.EnhancementCategories = categories
		data, err := json.Marshal(attrs)
		if err != nil {
			return err
		}
		return txn.Set(attrsKey(trialIndex), data)
	})
}

// summaryKey holds the collecter-produced run summary, outside the
// trial/<idx>/... prefix space so it can never collide with a trial index.
var summaryKey = []byte("run/summary")

// WriteSummary writes a collecter-produced run summary.
func (s *Sink) WriteSummary(summary map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(summary)
	if err != nil {
		return perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: marshal summary")
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(summaryKey, data)
	}); err != nil {
		return perrors.Wrap(perrors.KindSinkFailure, err, "kvsink: write summary")
	}
	return s.db.Sync()
}

// ReadSummary reads back the run summary written by WriteSummary, or nil
// if none was written.
func (s *Sink) ReadSummary() (map[string]interface{}, error) {
	var summary map[string]interface{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(summaryKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &summary) })
	})
	return summary, err
}

// Close closes the WAL, badger, and the compression codec, in that order.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Close(); err != nil {
		return err
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.codec.Close()
	return nil
}
