// Package seenset implements the bounded, insertion-ordered deduplication
// set described in spec §4.3. Insertion order coincides with age order for
// this set, which is what lets the TTL purge stop at the first non-expired
// entry instead of scanning the whole map.
package seenset

import (
	"container/list"
	"sync"

	"sidechannel-node/clock"
)

type entry struct {
	id        string
	firstSeen int64
}

// Set is a bounded map of message id -> first-seen-ms, safe for concurrent
// use.
type Set struct {
	mu        sync.Mutex
	clock     clock.Clock
	maxSeen   int
	ttlMs     int64
	order     *list.List // front = oldest
	index     map[string]*list.Element
}

// New returns an empty Set bounded to maxSeen entries, evicting anything
// older than ttlMs on insert.
func New(maxSeen int, ttlMs int64, c clock.Clock) *Set {
	if c == nil {
		c = clock.System{}
	}
	return &Set{
		clock:   c,
		maxSeen: maxSeen,
		ttlMs:   ttlMs,
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
}

// RememberSeen implements spec §4.3: an empty id is never a duplicate and is
// never recorded; a previously-seen id reports true; otherwise the id is
// recorded and false is returned.
func (s *Set) RememberSeen(id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return true
	}

	now := s.clock.NowMs()
	el := s.order.PushBack(&entry{id: id, firstSeen: now})
	s.index[id] = el

	if s.order.Len() > s.maxSeen {
		s.evictOldest()
	}
	s.purgeExpired(now)

	return false
}

// Len returns the number of tracked ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Set) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	s.order.Remove(front)
	delete(s.index, front.Value.(*entry).id)
}

// purgeExpired walks the list from the front (oldest) and stops at the
// first entry that is not yet expired, relying on insertion order also
// being age order.
func (s *Set) purgeExpired(now int64) {
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		if now-e.firstSeen < s.ttlMs {
			return
		}
		s.order.Remove(front)
		delete(s.index, e.id)
	}
}
