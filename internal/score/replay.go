package score

import (
	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/protocol"
	"gridhold.gg/internal/store"
)

// clipTrack restricts a path to [t0, t1). Waypoints before t0 are replaced by
// an interpolated position at t0 when the path continues past it, or clamped
// to t0 when it is the final waypoint.
func clipTrack(move []protocol.Waypoint, t0, t1 int64) []protocol.Waypoint {
	var r []protocol.Waypoint
	for i, w := range move {
		if w.T >= t1 {
			break
		}
		if w.T < t0 {
			if i+1 < len(move) {
				next := move[i+1]
				if next.T > t0 {
					x := (w.X*float64(next.T-t0) + next.X*float64(t0-w.T)) / float64(next.T-w.T)
					y := (w.Y*float64(next.T-t0) + next.Y*float64(t0-w.T)) / float64(next.T-w.T)
					r = append(r, protocol.Waypoint{X: x, Y: y, T: t0})
				}
			} else {
				r = append(r, protocol.Waypoint{X: w.X, Y: w.Y, T: t0})
			}
			continue
		}
		r = append(r, w)
	}
	return r
}

// replayTrack reconstructs an agent's path up to now from its committed move
// records, newest record first, clipping each to the window not covered by a
// newer record.
func replayTrack(records []string, idx int, now int64) ([]protocol.Waypoint, error) {
	if len(records) == 0 {
		x, y := engine.StartPos(idx)
		return []protocol.Waypoint{{X: x, Y: y, T: now}}, nil
	}

	var segments [][]protocol.Waypoint
	upper := int64(1 << 62)
	for i := len(records) - 1; i >= 0; i-- {
		t, move, err := protocol.ParseRecord(records[i])
		if err != nil {
			return nil, err
		}
		segments = append(segments, clipTrack(move, t, upper))
		if t <= now {
			break
		}
		upper = t
	}

	var r []protocol.Waypoint
	for i := len(segments) - 1; i >= 0; i-- {
		r = append(r, segments[i]...)
	}
	return r, nil
}

// publishReplay streams the delayed tracks of the leaderboard's top users to
// the spectator topic, one frame per agent slot, then signals the new tick.
func publishReplay(s *store.Store, topUserIDs []string, topUserIdx []int, nowAdmin int64) error {
	var frames [][]byte
	var err error
	s.View(func(d *store.Data) {
		for i, userID := range topUserIDs {
			for idx := 1; idx <= engine.NumAgents; idx++ {
				records := d.Records[store.AgentKey{UserID: userID, Idx: idx}]
				track, terr := replayTrack(records, idx, nowAdmin)
				if terr != nil {
					err = terr
					return
				}
				slot := topUserIdx[i]*engine.NumAgents + idx
				frames = append(frames, protocol.MoveFrame(slot, protocol.EncodeRecord(nowAdmin, track)))
			}
		}
	})
	if err != nil {
		return err
	}
	for _, f := range frames {
		s.Publish(protocol.SpectatorTopic, f)
	}
	s.Publish(protocol.SpectatorTopic, protocol.UpdateFrame())
	return nil
}
