package score

import (
	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/store"
)

type cell struct{ X, Y int }

// cellOf maps a position to its grid cell. Only exact integer positions can
// hold a resource; a mid-leg fractional position matches nothing.
func cellOf(x, y float64) (cell, bool) {
	c := cell{X: int(x), Y: int(y)}
	if float64(c.X) != x || float64(c.Y) != y {
		return cell{}, false
	}
	return c, true
}

type span struct {
	x, y     float64
	from, to int64
}

// occupancyDeltas builds, for one user, a per-cell difference map of agent
// presence over the window (lastTime, now]: +1 when an agent starts occupying
// a contested cell, -1 when it leaves. Only cells in the active set are kept.
func occupancyDeltas(d *store.Data, userID string, lastTime, now int64, cells map[cell]struct{}) map[cell]map[int64]int {
	deltas := make(map[cell]map[int64]int, len(cells))

	for idx := 1; idx <= engine.NumAgents; idx++ {
		st, ok := d.Agents[store.AgentKey{UserID: userID, Idx: idx}]
		if !ok {
			continue
		}

		var spans []span

		// Committed stays, newest first, until we fall behind the window.
		hist := d.History[store.AgentKey{UserID: userID, Idx: idx}]
		for i := len(hist) - 1; i >= 0; i-- {
			h := hist[i]
			if h.To <= lastTime {
				break
			}
			spans = append(spans, span{x: h.X, y: h.Y, from: h.From, to: h.To})
		}

		// Extend the live state to now: where will the agent sit, and since
		// when, given its in-flight and queued legs.
		switch {
		case st.HasLeg && st.HasPlan:
			if st.T2 < st.T1 {
				xx := (st.X0*float64(st.T1-st.T2) + st.X1*float64(st.T2-st.T0)) / float64(st.T1-st.T0)
				yy := (st.Y0*float64(st.T1-st.T2) + st.Y1*float64(st.T2-st.T0)) / float64(st.T1-st.T0)
				t3 := st.T2 + engine.Cost(xx-st.X3, yy-st.Y3)
				spans = append(spans, span{x: st.X3, y: st.Y3, from: t3, to: now})
			} else {
				if st.T2 != st.T1 {
					spans = append(spans, span{x: st.X1, y: st.Y1, from: st.T1, to: st.T2})
				}
				t3 := st.T2 + engine.Cost(st.X1-st.X3, st.Y1-st.Y3)
				spans = append(spans, span{x: st.X3, y: st.Y3, from: t3, to: now})
			}
		case st.HasLeg:
			spans = append(spans, span{x: st.X1, y: st.Y1, from: st.T1, to: now})
		case st.HasPlan:
			spans = append(spans, span{x: st.X0, y: st.Y0, from: st.T0, to: st.T2})
			t3 := st.T2 + engine.Cost(st.X0-st.X3, st.Y0-st.Y3)
			spans = append(spans, span{x: st.X3, y: st.Y3, from: t3, to: now})
		default:
			spans = append(spans, span{x: st.X0, y: st.Y0, from: st.T0, to: now})
		}

		for _, v := range spans {
			t0, t1 := v.from, v.to
			if t0 >= t1 || t1 <= lastTime || now <= t0 {
				continue
			}
			if t0 < lastTime {
				t0 = lastTime
			}
			if t1 > now {
				t1 = now
			}
			c, ok := cellOf(v.x, v.y)
			if !ok {
				continue
			}
			if _, active := cells[c]; !active {
				continue
			}
			m := deltas[c]
			if m == nil {
				m = map[int64]int{}
				deltas[c] = m
			}
			m[t0]++
			m[t1]--
		}
	}

	// Drop cells whose deltas fully cancel.
	for c, m := range deltas {
		empty := true
		for t, n := range m {
			if n == 0 {
				delete(m, t)
				continue
			}
			empty = false
		}
		if empty {
			delete(deltas, c)
		}
	}
	return deltas
}
