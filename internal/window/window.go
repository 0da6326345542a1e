package window

import (
	"container/list"
	"time"
)

// entry is one record in the in-flight window: a payload that has been sent
// and is awaiting acknowledgement.
type entry struct {
	tag         Tag
	deadline    time.Time
	payload     any
	retransLeft int
}

// slidingWindow is an order-preserving mapping from tag to entry: insertion
// order equals send order, lookup by tag is O(1), and access to the
// first-inserted (head) entry is O(1). It is implemented as a doubly linked
// list carrying insertion order plus a map from tag to list element, rather
// than re-sorting by deadline — the head is "next-to-wait-for" by send order,
// not necessarily by earliest deadline (see spec §3).
type slidingWindow struct {
	order *list.List
	index map[Tag]*list.Element
}

func newSlidingWindow(capacity int) *slidingWindow {
	return &slidingWindow{
		order: list.New(),
		index: make(map[Tag]*list.Element, capacity),
	}
}

func (w *slidingWindow) Len() int { return w.order.Len() }

// push appends a freshly-sent entry at the tail.
func (w *slidingWindow) push(e *entry) {
	el := w.order.PushBack(e)
	w.index[e.tag] = el
}

// head returns the earliest-inserted entry, or nil if the window is empty.
func (w *slidingWindow) head() *entry {
	front := w.order.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*entry)
}

// get looks up an entry by tag, without removing it.
func (w *slidingWindow) get(tag Tag) (*entry, bool) {
	el, ok := w.index[tag]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry), true
}

// remove deletes the entry for tag, wherever it sits in send order.
func (w *slidingWindow) remove(tag Tag) (*entry, bool) {
	el, ok := w.index[tag]
	if !ok {
		return nil, false
	}
	delete(w.index, tag)
	w.order.Remove(el)
	return el.Value.(*entry), true
}

// retiredTags remembers tags whose entry was evicted from the window by a
// timeout-driven retransmission, so a later duplicate ack of that tag can be
// told apart from an ack that was never sent at all (spec §4.2.3, Lenient
// mode). It is bounded: a transfer with thousands of retransmissions must
// not grow this set without limit.
type retiredTags struct {
	limit int
	set   map[Tag]struct{}
	order []Tag
}

func newRetiredTags(limit int) *retiredTags {
	if limit <= 0 {
		limit = 1
	}
	return &retiredTags{
		limit: limit,
		set:   make(map[Tag]struct{}, limit),
	}
}

func (r *retiredTags) add(tag Tag) {
	if _, ok := r.set[tag]; ok {
		return
	}
	if len(r.order) >= r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}
	r.set[tag] = struct{}{}
	r.order = append(r.order, tag)
}

func (r *retiredTags) contains(tag Tag) bool {
	_, ok := r.set[tag]
	return ok
}

func (r *retiredTags) discard(tag Tag) {
	if _, ok := r.set[tag]; !ok {
		return
	}
	delete(r.set, tag)
	for i, t := range r.order {
		if t == tag {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
