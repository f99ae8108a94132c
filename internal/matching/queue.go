// Package matching holds the in-memory matchmaking state: the FIFO queue of
// connections waiting for a partner, and the pairing table recording who is
// paired with whom.
//
// Neither structure is safe for concurrent use on its own; the session
// coordinator serializes all access behind a single lock.
package matching

// Queue is a FIFO of connection ids waiting for a partner. Enqueue is
// idempotent: an id appears at most once regardless of how many times it is
// added.
type Queue struct {
	ids     []string
	present map[string]struct{}
}

// NewQueue creates an empty matchmaking queue.
func NewQueue() *Queue {
	return &Queue{present: make(map[string]struct{})}
}

// Enqueue appends id to the tail unless it is already queued. It returns
// true if the id was added, false if it was already present.
func (q *Queue) Enqueue(id string) bool {
	if _, ok := q.present[id]; ok {
		return false
	}
	q.ids = append(q.ids, id)
	q.present[id] = struct{}{}
	return true
}

// Remove deletes id from the queue if present; no-op otherwise.
func (q *Queue) Remove(id string) {
	if _, ok := q.present[id]; !ok {
		return
	}
	delete(q.present, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return
		}
	}
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.present[id]
	return ok
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	return len(q.ids)
}

// DequeueFirst walks the queue from the head looking for the first entry for
// which usable returns true. Entries for which skip returns true are left in
// place (they stay queued in their original position); entries that are
// neither skipped nor usable are stale (banned or disconnected) and are
// discarded as they are encountered. Returns the dequeued id, or "" if the
// queue holds no usable entry.
func (q *Queue) DequeueFirst(skip func(id string) bool, usable func(id string) bool) string {
	kept := q.ids[:0]
	var found string

	for i, id := range q.ids {
		if found != "" {
			kept = append(kept, q.ids[i:]...)
			break
		}
		if skip != nil && skip(id) {
			kept = append(kept, id)
			continue
		}
		if !usable(id) {
			// Stale entry: lazy cleanup, drop it for good.
			delete(q.present, id)
			continue
		}
		found = id
		delete(q.present, id)
	}

	q.ids = kept
	return found
}
