package framecachemodule

import (
	"container/list"
	"math"
	"time"

	"github.com/velocut/velocut/internal/media"
)

// frameKey identifies a cached frame: source id plus the timestamp quantized
// to the millisecond.
type frameKey struct {
	sourceID string
	timeMS   int64
}

func keyFor(sourceID string, t float64) frameKey {
	return frameKey{sourceID: sourceID, timeMS: int64(math.Round(t * 1000))}
}

// cachedFrame is one arena entry. Entries live in a single recency list
// shared across all sources so that eviction pressure follows actual access
// patterns instead of per-source quotas.
type cachedFrame struct {
	key        frameKey
	frame      *media.Frame
	lastAccess time.Time
	decodeCost float64
}

// frameArena is the global LRU index: one map keyed by (source, quantized
// time) plus an intrusive recency list. Front is most recent. All methods
// assume the owning cache's lock is held.
type frameArena struct {
	entries map[frameKey]*list.Element
	order   *list.List // of *cachedFrame
	bytes   int64

	perSource map[string]int
}

func newFrameArena() *frameArena {
	return &frameArena{
		entries:   make(map[frameKey]*list.Element),
		order:     list.New(),
		perSource: make(map[string]int),
	}
}

// get returns the entry for key and bumps its recency.
func (a *frameArena) get(key frameKey, now time.Time) *media.Frame {
	el, ok := a.entries[key]
	if !ok {
		return nil
	}
	cf := el.Value.(*cachedFrame)
	cf.lastAccess = now
	a.order.MoveToFront(el)
	return cf.frame
}

// peek returns the entry without touching recency.
func (a *frameArena) peek(key frameKey) *media.Frame {
	el, ok := a.entries[key]
	if !ok {
		return nil
	}
	return el.Value.(*cachedFrame).frame
}

// put inserts a frame, replacing any existing entry for the key. At most one
// entry exists per key at any time.
func (a *frameArena) put(key frameKey, frame *media.Frame, now time.Time) {
	if el, ok := a.entries[key]; ok {
		cf := el.Value.(*cachedFrame)
		a.bytes -= cf.frame.SizeBytes()
		cf.frame = frame
		cf.lastAccess = now
		cf.decodeCost = frame.DecodeCost
		a.bytes += frame.SizeBytes()
		a.order.MoveToFront(el)
		return
	}

	cf := &cachedFrame{
		key:        key,
		frame:      frame,
		lastAccess: now,
		decodeCost: frame.DecodeCost,
	}
	a.entries[key] = a.order.PushFront(cf)
	a.bytes += frame.SizeBytes()
	a.perSource[key.sourceID]++
}

// evictOne removes the least-recently-accessed entry and returns it. Among
// entries sharing the oldest access time, the one with the larger decode
// cost goes first since it is not cheaper to keep.
func (a *frameArena) evictOne() *cachedFrame {
	back := a.order.Back()
	if back == nil {
		return nil
	}

	victim := back
	oldest := back.Value.(*cachedFrame).lastAccess
	for el := back.Prev(); el != nil; el = el.Prev() {
		cf := el.Value.(*cachedFrame)
		if !cf.lastAccess.Equal(oldest) {
			break
		}
		if cf.decodeCost > victim.Value.(*cachedFrame).decodeCost {
			victim = el
		}
	}

	cf := victim.Value.(*cachedFrame)
	a.remove(cf.key)
	return cf
}

// remove drops the entry for key if present.
func (a *frameArena) remove(key frameKey) {
	el, ok := a.entries[key]
	if !ok {
		return
	}
	cf := el.Value.(*cachedFrame)
	a.order.Remove(el)
	delete(a.entries, key)
	a.bytes -= cf.frame.SizeBytes()
	a.perSource[key.sourceID]--
	if a.perSource[key.sourceID] <= 0 {
		delete(a.perSource, key.sourceID)
	}
}

// clear drops every entry.
func (a *frameArena) clear() {
	a.entries = make(map[frameKey]*list.Element)
	a.order.Init()
	a.bytes = 0
	a.perSource = make(map[string]int)
}

func (a *frameArena) len() int { return a.order.Len() }

// sourceFrames returns the number of resident frames for a source.
func (a *frameArena) sourceFrames(sourceID string) int { return a.perSource[sourceID] }
