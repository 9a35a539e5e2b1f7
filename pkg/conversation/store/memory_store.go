package store

import (
	"sort"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
)

// InMemoryRecordStore keeps records keyed by id in insertion order. It does
// no locking of its own; FileRecordStore guards it.
type InMemoryRecordStore struct {
	records map[string]*conversation.Record
	order   []string
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		records: map[string]*conversation.Record{},
		order:   []string{},
	}
}

func (s *InMemoryRecordStore) Len() int {
	return len(s.order)
}

// Upsert stores a copy of r, replacing any record with the same id.
func (s *InMemoryRecordStore) Upsert(r *conversation.Record) {
	if _, ok := s.records[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.records[r.ID] = r.Clone()
}

func (s *InMemoryRecordStore) Get(id string) (*conversation.Record, bool) {
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *InMemoryRecordStore) Delete(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, id_ := range s.order {
		if id_ == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// each iterates over the live records in insertion order. Callers must not
// hand out the pointers.
func (s *InMemoryRecordStore) each(f func(r *conversation.Record) bool) {
	for _, id := range s.order {
		if !f(s.records[id]) {
			return
		}
	}
}

func (s *InMemoryRecordStore) users() []string {
	seen := map[string]struct{}{}
	s.each(func(r *conversation.Record) bool {
		seen[r.User] = struct{}{}
		return true
	})
	ret := make([]string, 0, len(seen))
	for u := range seen {
		ret = append(ret, u)
	}
	sort.Strings(ret)
	return ret
}
