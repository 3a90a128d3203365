// Package master holds the immutable per-game data: the resource schedule
// and the game period. It is loaded once at process start and read-only for
// the lifetime of a run.
package master

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Resource occupies cell (X,Y) and is contestable during [T0,T1).
type Resource struct {
	ID     int    `json:"id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	T0     int    `json:"t0"`
	T1     int    `json:"t1"`
	Type   string `json:"type"`
	Weight int    `json:"weight"`
}

type MasterData struct {
	Period    int64
	Resources []Resource

	byID map[int]Resource
}

func New(resources []Resource, period int64) *MasterData {
	m := &MasterData{
		Period:    period,
		Resources: resources,
		byID:      make(map[int]Resource, len(resources)),
	}
	for _, r := range resources {
		m.byID[r.ID] = r
	}
	return m
}

// File is the on-disk master data layout written by cmd/mapgen.
type File struct {
	Resource []Resource `json:"resource"`
	Period   int64      `json:"period"`
}

func Load(path string) (*MasterData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("master data: %w", err)
	}
	if f.Period <= 0 {
		return nil, fmt.Errorf("master data: period must be positive, got %d", f.Period)
	}
	return New(f.Resource, f.Period), nil
}

func (m *MasterData) Get(id int) (Resource, bool) {
	r, ok := m.byID[id]
	return r, ok
}

// Types lists the distinct resource types, sorted.
func (m *MasterData) Types() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range m.Resources {
		if !seen[r.Type] {
			seen[r.Type] = true
			out = append(out, r.Type)
		}
	}
	sort.Strings(out)
	return out
}

// ResourcesWhere returns the resources whose active window overlaps [t0,t1).
func (m *MasterData) ResourcesWhere(t0, t1 int64) map[int]Resource {
	out := map[int]Resource{}
	for _, r := range m.Resources {
		if t1 <= int64(r.T0) || int64(r.T1) <= t0 {
			continue
		}
		out[r.ID] = r
	}
	return out
}

// Visible returns the resources a client may see at now: not yet closed, and
// within lead time units of opening.
func (m *MasterData) Visible(now, lead int64) []Resource {
	out := []Resource{}
	for _, r := range m.Resources {
		if int64(r.T1) < now {
			continue
		}
		if now+lead <= int64(r.T0) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// NextVisible returns the earliest T0 still beyond the visibility lead, or -1
// when no further resource is pending.
func (m *MasterData) NextVisible(now, lead int64) int64 {
	next := int64(-1)
	for _, r := range m.Resources {
		if now+lead <= int64(r.T0) {
			if next < 0 || int64(r.T0) < next {
				next = int64(r.T0)
			}
		}
	}
	return next
}
