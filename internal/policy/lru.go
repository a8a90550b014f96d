package policy

import "container/list"

// lruEntry is the payload stored at each container/list element.
type lruEntry struct {
	key      string
	refCount int
}

// lru is the default eviction policy: most-recently-accessed-or-pinned
// key sits at the front of the list, eviction scans from the back.
//
// Grounded on original_source/server/backend/policy_lru.c's intrusive
// list + uthash pair; container/list plus a map is the idiomatic Go
// equivalent of that combination. hashicorp/golang-lru/v2 (present in the
// example pack's dependency graph) was considered but its Add-triggers-
// eviction, capacity-bound design doesn't fit this policy's pull-based
// Evict()-on-demand model with explicit ref-count pinning against
// concurrent async ops — there is no hook to suppress auto-eviction of a
// pinned key, so it is dropped for this component specifically.
type lru struct {
	ll    *list.List
	index map[string]*list.Element
}

func newLRU() Policy {
	return &lru{
		ll:    list.New(),
		index: make(map[string]*list.Element),
	}
}

func init() {
	Register("lru", newLRU)
}

func (p *lru) Access(key string) {
	if el, ok := p.index[key]; ok {
		p.ll.MoveToFront(el)
		return
	}
	el := p.ll.PushFront(&lruEntry{key: key})
	p.index[key] = el
}

func (p *lru) Evict() (string, error) {
	const maxAttempts = 128

	el := p.ll.Back()
	for attempts := 0; el != nil && attempts < maxAttempts; attempts++ {
		entry := el.Value.(*lruEntry)
		if entry.refCount == 0 {
			victim := entry.key
			p.ll.Remove(el)
			delete(p.index, victim)
			return victim, nil
		}
		el = el.Prev()
	}
	return "", ErrNoVictim
}

func (p *lru) DelKey(key string) {
	if el, ok := p.index[key]; ok {
		p.ll.Remove(el)
		delete(p.index, key)
	}
}

func (p *lru) TryRefKey(key string) bool {
	el, ok := p.index[key]
	if !ok {
		return false
	}
	el.Value.(*lruEntry).refCount++
	p.ll.MoveToFront(el)
	return true
}

func (p *lru) UnrefKey(key string) {
	el, ok := p.index[key]
	if !ok {
		return
	}
	entry := el.Value.(*lruEntry)
	if entry.refCount > 0 {
		entry.refCount--
	}
}
