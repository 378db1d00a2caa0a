// Package state holds the three crawl collections in memory and enforces
// their invariants: an accepted id is never pending or discarded, and a
// discarded id is never pending. Backends persist a State; they do not
// re-implement its rules.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// State is not safe for concurrent use; callers serialize access.
type State struct {
	accepted  map[string]json.RawMessage
	pending   *orderedSet
	discarded *orderedSet
}

// New returns an empty State.
func New() *State {
	return &State{
		accepted:  make(map[string]json.RawMessage),
		pending:   newOrderedSet(),
		discarded: newOrderedSet(),
	}
}

// Status reports which collection holds id.
func (s *State) Status(id string) harvest.Status {
	switch {
	case s.hasAccepted(id):
		return harvest.StatusAccepted
	case s.discarded.has(id):
		return harvest.StatusDiscarded
	case s.pending.has(id):
		return harvest.StatusPending
	default:
		return harvest.StatusUnvisited
	}
}

func (s *State) hasAccepted(id string) bool {
	_, ok := s.accepted[id]
	return ok
}

// Accept upserts the serialized record and removes id from the other
// collections. It reports whether the stored bytes changed.
func (s *State) Accept(id string, record json.RawMessage) bool {
	s.pending.remove(id)
	s.discarded.remove(id)
	if prev, ok := s.accepted[id]; ok && bytes.Equal(prev, record) {
		return false
	}
	s.accepted[id] = append(json.RawMessage(nil), record...)
	return true
}

// AddPending marks id as not yet released unless it is already resolved.
func (s *State) AddPending(id string) bool {
	if s.hasAccepted(id) || s.discarded.has(id) {
		return false
	}
	return s.pending.add(id)
}

// AddDiscarded marks id as discarded unless it was accepted. It leaves pending.
func (s *State) AddDiscarded(id string) bool {
	if s.hasAccepted(id) {
		return false
	}
	s.pending.remove(id)
	return s.discarded.add(id)
}

// Record returns the stored bytes of an accepted record.
func (s *State) Record(id string) (json.RawMessage, bool) {
	raw, ok := s.accepted[id]
	return raw, ok
}

// Counts returns the collection sizes.
func (s *State) Counts() harvest.Counts {
	return harvest.Counts{
		Accepted:  len(s.accepted),
		Pending:   s.pending.len(),
		Discarded: s.discarded.len(),
	}
}

// PendingIDs lists pending ids in insertion order.
func (s *State) PendingIDs() []string {
	return s.pending.values()
}

// DiscardedIDs lists discarded ids in insertion order.
func (s *State) DiscardedIDs() []string {
	return s.discarded.values()
}

// Encode serializes one collection with four-space indentation. The accepted
// dataset is an object keyed by id; the other collections are lists.
func (s *State) Encode(col harvest.Collection) ([]byte, error) {
	var compact []byte
	var err error
	switch col {
	case harvest.CollectionAccepted:
		compact, err = s.encodeAccepted()
	case harvest.CollectionPending:
		compact, err = encodeIDs(s.pending.values())
	case harvest.CollectionDiscarded:
		compact, err = encodeIDs(s.discarded.values())
	default:
		return nil, fmt.Errorf("unknown collection %q", col)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", col, err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "    "); err != nil {
		return nil, fmt.Errorf("indent %s: %w", col, err)
	}
	return out.Bytes(), nil
}

func (s *State) encodeAccepted() ([]byte, error) {
	ids := make([]string, 0, len(s.accepted))
	for id := range s.accepted {
		ids = append(ids, id)
	}
	sortIDs(ids)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, fmt.Errorf("marshal key: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := json.Compact(&buf, s.accepted[id]); err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode replaces one collection with the contents of data. Empty or
// whitespace-only input decodes as an empty collection.
func (s *State) Decode(col harvest.Collection, data []byte) error {
	data = bytes.TrimSpace(data)
	switch col {
	case harvest.CollectionAccepted:
		accepted := make(map[string]json.RawMessage)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &accepted); err != nil {
				return fmt.Errorf("decode %s: %w", col, err)
			}
		}
		for id, raw := range accepted {
			var compact bytes.Buffer
			if err := json.Compact(&compact, raw); err != nil {
				return fmt.Errorf("decode %s record %s: %w", col, id, err)
			}
			accepted[id] = compact.Bytes()
		}
		s.accepted = accepted
	case harvest.CollectionPending, harvest.CollectionDiscarded:
		ids, err := decodeIDs(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", col, err)
		}
		set := newOrderedSet()
		for _, id := range ids {
			set.add(id)
		}
		if col == harvest.CollectionPending {
			s.pending = set
		} else {
			s.discarded = set
		}
	default:
		return fmt.Errorf("unknown collection %q", col)
	}
	return nil
}

// Normalize restores the invariants after independently loaded collections:
// accepted wins over discarded and pending, discarded wins over pending.
func (s *State) Normalize() {
	for id := range s.accepted {
		s.pending.remove(id)
		s.discarded.remove(id)
	}
	for _, id := range s.discarded.values() {
		s.pending.remove(id)
	}
}

// encodeIDs writes numeric ids as JSON numbers and anything else as strings,
// which keeps files written by earlier tooling stable across rewrites.
func encodeIDs(ids []string) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		if isNumeric(id) {
			items = append(items, json.RawMessage(id))
			continue
		}
		quoted, err := json.Marshal(id)
		if err != nil {
			return nil, fmt.Errorf("marshal id: %w", err)
		}
		items = append(items, quoted)
	}
	out, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal ids: %w", err)
	}
	return out, nil
}

func decodeIDs(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case json.Number:
			ids = append(ids, v.String())
		case string:
			ids = append(ids, v)
		default:
			return nil, fmt.Errorf("unexpected id %v", item)
		}
	}
	return ids, nil
}

func isNumeric(id string) bool {
	if id == "" || len(id) > 18 || (len(id) > 1 && id[0] == '0') {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// sortIDs orders numeric ids numerically before any non-numeric ids.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aErr := strconv.ParseUint(ids[i], 10, 64)
		b, bErr := strconv.ParseUint(ids[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
