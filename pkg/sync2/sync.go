// Package sync2 implements the Sync Registry and Offset Estimator: it
// collects cross-reader sync events, pairs a reference reader's list
// against each follower's, and yields a per-follower clock offset at any
// query time. It is named sync2 to avoid colliding with the standard
// library's sync package.
package sync2

import (
	"strconv"

	"github.com/vjranagit/trialpipe/pkg/buffer"
)

// Predicate reports whether a numeric event row is a sync event.
type Predicate func(buffer.NumericRow) bool

// PairingKey extracts a pairing key from a matching row. When nil, the
// Registry falls back to the event's observation index as the key.
type PairingKey func(buffer.NumericRow) string

// Registry owns each reader's private sync-event list and exposes offset
// estimation against a single designated reference reader.
type Registry struct {
	referenceName string
	events        map[string][]Event
	nextIndex     map[string]int
	inheritsFrom  map[string]string
	strategyOf    map[string]Strategy
}

// NewRegistry creates a Registry whose reference reader is referenceName.
// Exactly one reader must be the reference; the Registry does not enforce
// this itself — the config loader does, at load time, per the Config
// error taxonomy.
func NewRegistry(referenceName string) *Registry {
	return &Registry{
		referenceName: referenceName,
		events:        make(map[string][]Event),
		nextIndex:     make(map[string]int),
		inheritsFrom:  make(map[string]string),
		strategyOf:    make(map[string]Strategy),
	}
}

// Inherit declares that followerName has no sync descriptor of its own
// and instead reuses sourceReaderName's sync-event list, per the
// "reader_name" inheritance option in the sync descriptor.
func (r *Registry) Inherit(followerName, sourceReaderName string) {
	r.inheritsFrom[followerName] = sourceReaderName
}

// SetStrategy overrides the pairing strategy used for followerName.
// ClosestInTime is the default when none is set.
func (r *Registry) SetStrategy(followerName string, s Strategy) {
	r.strategyOf[followerName] = s
}

// Observe scans newly appended rows for readerName's designated sync
// buffer, appending any row matching pred to readerName's sync-event
// list. Called by the driver once per router append cycle, after the
// router has applied the new rows to the buffer.
func (r *Registry) Observe(readerName string, rows []buffer.NumericRow, pred Predicate, key PairingKey) {
	for _, row := range rows {
		idx := r.nextIndex[readerName]
		r.nextIndex[readerName] = idx + 1
		if !pred(row) {
			continue
		}
		k := strconv.Itoa(idx)
		if key != nil {
			k = key(row)
		}
		r.events[readerName] = append(r.events[readerName], Event{T: row.T, Key: k})
	}
}

// OffsetAt returns the follower-to-reference offset Δ = t_ref − t_follower
// at the most recent pair with reference time <= t, or 0 if no pair has
// been observed yet. The returned offset is never back-applied to buffer
// storage; callers add it to timestamps read from the follower's buffer.
func (r *Registry) OffsetAt(followerName string, t float64) float64 {
	source := followerName
	if inherited, ok := r.inheritsFrom[followerName]; ok {
		source = inherited
	}

	strategy := Strategy(ClosestInTime{})
	if s, ok := r.strategyOf[followerName]; ok {
		strategy = s
	}

	pairs := strategy.Pair(r.events[r.referenceName], r.events[source])

	var best *Pair
	for i := range pairs {
		if pairs[i].RefT > t {
			break
		}
		best = &pairs[i]
	}
	if best == nil {
		return 0
	}
	return best.RefT - best.FollowerT
}

// ReferenceName returns the configured reference reader's name.
func (r *Registry) ReferenceName() string { return r.referenceName }
