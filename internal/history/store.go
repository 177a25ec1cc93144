// Package history owns the per-device point history of the dashboard.
//
// Every write goes through one merge path: concatenate, drop duplicate
// identities (first seen wins), sort by timestamp, trim to the window and
// swap the device slice. Histories handed out are never modified afterwards,
// so readers may keep them without copying.
package history

import (
	"sort"
	"sync"

	"herd-monitor/dashboard/internal/domain"
)

const DefaultWindow = 120

// MergeResult describes what one merge did to a device history.
type MergeResult struct {
	DeviceID string
	Added    int
	Dropped  int
	Len      int
}

// Listener is called after every merge, outside the store lock.
type Listener func(MergeResult)

type Store struct {
	mu        sync.RWMutex
	window    int
	devices   map[string][]domain.LivePoint
	listeners []Listener
}

func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:  window,
		devices: make(map[string][]domain.LivePoint),
	}
}

// OnMerge registers fn to observe mutations. Register before the store is
// shared; listeners are not synchronised against concurrent registration.
func (s *Store) OnMerge(fn Listener) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) Window() int { return s.window }

// MergeBatch folds points into the history of deviceID. Points tagged with a
// different device id are ignored.
func (s *Store) MergeBatch(deviceID string, points []domain.LivePoint) MergeResult {
	s.mu.Lock()
	prev := s.devices[deviceID]
	next := Merge(prev, filterDevice(deviceID, points), s.window)
	if len(next) > 0 {
		s.devices[deviceID] = next
	}
	s.mu.Unlock()

	res := MergeResult{
		DeviceID: deviceID,
		Added:    countNew(prev, next),
		Len:      len(next),
	}
	res.Dropped = len(prev) + res.Added - len(next)

	for _, fn := range s.listeners {
		fn(res)
	}
	return res
}

// ReplaceSnapshot reconciles a REST snapshot with the current history. It is
// the same operation as MergeBatch so polled and streamed points can never
// disagree about what the history holds.
func (s *Store) ReplaceSnapshot(deviceID string, points []domain.LivePoint) MergeResult {
	return s.MergeBatch(deviceID, points)
}

// MergeAll groups points by device and merges each group.
func (s *Store) MergeAll(points []domain.LivePoint) []MergeResult {
	groups := make(map[string][]domain.LivePoint)
	order := make([]string, 0)
	for _, p := range points {
		if _, ok := groups[p.DeviceID]; !ok {
			order = append(order, p.DeviceID)
		}
		groups[p.DeviceID] = append(groups[p.DeviceID], p)
	}

	results := make([]MergeResult, 0, len(order))
	for _, id := range order {
		results = append(results, s.MergeBatch(id, groups[id]))
	}
	return results
}

// History returns the ordered history of a device, or nil.
func (s *Store) History(deviceID string) []domain.LivePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[deviceID]
}

// Latest returns the most recent point of a device.
func (s *Store) Latest(deviceID string) (domain.LivePoint, bool) {
	h := s.History(deviceID)
	if len(h) == 0 {
		return domain.LivePoint{}, false
	}
	return h[len(h)-1], true
}

// DeviceIDs lists every device with at least one merge, sorted.
func (s *Store) DeviceIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns all histories. The slices are shared and read-only.
func (s *Store) Snapshot() map[string][]domain.LivePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.LivePoint, len(s.devices))
	for id, h := range s.devices {
		out[id] = h
	}
	return out
}

// Merge is the pure merge step: it never modifies existing or incoming and
// returns a fresh slice.
func Merge(existing, incoming []domain.LivePoint, window int) []domain.LivePoint {
	type keyed struct {
		id domain.Identity
		p  domain.LivePoint
	}
	all := make([]keyed, 0, len(existing)+len(incoming))
	seen := make(map[domain.Identity]struct{}, len(existing)+len(incoming))

	for _, src := range [][]domain.LivePoint{existing, incoming} {
		for _, p := range src {
			id := p.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			all = append(all, keyed{id: id, p: p})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].id.Less(all[j].id)
	})

	if window > 0 && len(all) > window {
		all = all[len(all)-window:]
	}
	out := make([]domain.LivePoint, len(all))
	for i, k := range all {
		out[i] = k.p
	}
	return out
}

func filterDevice(deviceID string, points []domain.LivePoint) []domain.LivePoint {
	out := points[:0:0]
	for _, p := range points {
		if p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	return out
}

func countNew(prev, next []domain.LivePoint) int {
	if len(prev) == 0 {
		return len(next)
	}
	old := make(map[domain.Identity]struct{}, len(prev))
	for _, p := range prev {
		old[p.Identity()] = struct{}{}
	}
	n := 0
	for _, p := range next {
		if _, ok := old[p.Identity()]; !ok {
			n++
		}
	}
	return n
}
