package score

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gridhold.gg/internal/master"
	"gridhold.gg/internal/protocol"
)

// ErrDuplicateTick reports a scoring tick applied twice to the same user.
// This is a bug in the tick loop, never a recoverable condition.
var ErrDuplicateTick = errors.New("scoring tick applied twice")

// UserData is one user's accumulated scoring state. It survives restarts via
// Export/Import.
type UserData struct {
	types []string

	lastCalcTime  int64
	sum           map[int][]int
	scoreProgress map[int]float64
	scoreFixed    map[string]float64
}

func NewUserData(types []string) *UserData {
	fixed := make(map[string]float64, len(types))
	for _, t := range types {
		fixed[t] = 0
	}
	return &UserData{
		types:         types,
		sum:           map[int][]int{},
		scoreProgress: map[int]float64{},
		scoreFixed:    fixed,
	}
}

// ProgressAmounts is the user's in-progress amount per contested resource id.
func (u *UserData) ProgressAmounts() map[int]float64 {
	out := make(map[int]float64, len(u.scoreProgress))
	for id, v := range u.scoreProgress {
		out[id] = v
	}
	return out
}

// Update ingests one tick's occupancy deltas over (t0, t1]. Resources whose
// window closed since the previous tick are finalized into the fixed score.
// The user's per-resource occupancy prefix sums are stored and accumulated
// into sumDict, the all-user totals for the same tick.
func (u *UserData) Update(deltas map[cell]map[int64]int, t0, t1 int64, sumDict map[int][]int, resources map[int]master.Resource, md *master.MasterData) error {
	if u.lastCalcTime == t1 {
		return fmt.Errorf("%w: tick %d", ErrDuplicateTick, t1)
	}
	u.lastCalcTime = t1
	u.sum = map[int][]int{}

	removed := map[string][]float64{}
	for id, v := range u.scoreProgress {
		if _, active := resources[id]; active {
			continue
		}
		r, ok := md.Get(id)
		if !ok {
			return fmt.Errorf("unknown resource id %d in progress state", id)
		}
		removed[r.Type] = append(removed[r.Type], v*float64(r.Weight))
		delete(u.scoreProgress, id)
	}
	for typ, v := range removed {
		u.scoreFixed[typ] += sumAscending(v)
	}

	for id, r := range resources {
		b, ok := deltas[cell{X: r.X, Y: r.Y}]
		if !ok {
			continue
		}
		tt0 := max(t0, int64(r.T0))
		tt1 := min(t1, int64(r.T1))

		times := make([]int64, 0, len(b))
		for t := range b {
			times = append(times, t)
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

		s := 0
		for _, t := range times {
			if t >= tt0 {
				break
			}
			s += b[t]
		}

		c := make([]int, tt1-tt0)
		for i := range c {
			if n, ok := b[tt0+int64(i)]; ok {
				s += n
			}
			c[i] = s
		}

		u.sum[id] = c
		total := sumDict[id]
		if total == nil {
			total = make([]int, len(c))
			sumDict[id] = total
		}
		for i, v := range c {
			total[i] += v
		}
	}
	return nil
}

// Calc turns the tick's occupancy shares into score progress and returns the
// composite point plus the per-type breakdown.
func (u *UserData) Calc(sumDict map[int][]int, resources map[int]master.Resource) (float64, []protocol.TypeAmount) {
	for id, a := range u.sum {
		total := sumDict[id]
		if _, ok := u.scoreProgress[id]; !ok {
			u.scoreProgress[id] = 0
		}
		for i, v := range a {
			if v > 0 {
				u.scoreProgress[id] += float64(v) / float64(total[i])
			}
		}
	}

	parts := map[string][]float64{}
	for id, v := range u.scoreProgress {
		r := resources[id]
		parts[r.Type] = append(parts[r.Type], v*float64(r.Weight))
	}

	s := make([]float64, len(u.types))
	sd := make([]protocol.TypeAmount, len(u.types))
	for i, typ := range u.types {
		s[i] = u.scoreFixed[typ] + sumAscending(parts[typ])
		sd[i] = protocol.TypeAmount{Type: typ, Amount: s[i] / 1000}
	}

	// Composite point: the weakest type dominates, so balanced play wins.
	sort.Float64s(s)
	point := 0.0
	for _, v := range s {
		point = point*10 + v
	}
	return point * 1e-5, sd
}

type exported struct {
	A []json.Number      `json:"a,omitempty"`
	B map[string]float64 `json:"b,omitempty"`
}

// Export serializes the durable part of the state, or nil when everything is
// zero. Per-tick occupancy sums are transient and excluded.
func (u *UserData) Export() any {
	var e exported
	for id, v := range u.scoreProgress {
		if v == 0 {
			continue
		}
		e.A = append(e.A, json.Number(fmt.Sprintf("%d", id)))
		e.A = append(e.A, json.Number(fmt.Sprintf("%g", v)))
	}
	for typ, v := range u.scoreFixed {
		if v == 0 {
			continue
		}
		if e.B == nil {
			e.B = map[string]float64{}
		}
		e.B[typ] = v
	}
	if e.A == nil && e.B == nil {
		return nil
	}
	return e
}

// Import restores state written by Export.
func (u *UserData) Import(data json.RawMessage) error {
	var e exported
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if len(e.A)%2 != 0 {
		return fmt.Errorf("malformed progress list")
	}
	u.scoreProgress = map[int]float64{}
	for i := 0; i < len(e.A); i += 2 {
		id, err := e.A[i].Int64()
		if err != nil {
			return err
		}
		v, err := e.A[i+1].Float64()
		if err != nil {
			return err
		}
		u.scoreProgress[int(id)] = v
	}
	for typ, v := range e.B {
		u.scoreFixed[typ] = v
	}
	return nil
}

// sumAscending adds floats smallest-first for a stable total independent of
// map iteration order.
func sumAscending(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	for len(a) > 1 {
		sort.Float64s(a)
		a[0] += a[1]
		a = append(a[:1], a[2:]...)
	}
	return a[0]
}
