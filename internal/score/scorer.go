// Package score runs the periodic scoring engine: it sweeps agent occupancy
// over contested resource cells, splits each resource's yield among the users
// present, maintains the leaderboard, and drives the delayed spectator replay.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"gridhold.gg/internal/game"
	"gridhold.gg/internal/master"
	"gridhold.gg/internal/persistence/scoredb"
	"gridhold.gg/internal/protocol"
	"gridhold.gg/internal/store"
)

type Scorer struct {
	store  *store.Store
	master *master.MasterData
	clock  *game.Clock
	tuning game.Tuning
	db     *scoredb.DB
	logger *log.Logger
	types  []string

	userIDs  []string
	userData map[string]*UserData
	userIdx  map[string]int

	topUserIDs []string
	topUserIdx []int
}

func NewScorer(s *store.Store, md *master.MasterData, clock *game.Clock, tuning game.Tuning, db *scoredb.DB, logger *log.Logger) *Scorer {
	return &Scorer{
		store:    s,
		master:   md,
		clock:    clock,
		tuning:   tuning,
		db:       db,
		logger:   logger,
		types:    md.Types(),
		userData: map[string]*UserData{},
		userIdx:  map[string]int{},
	}
}

// Run executes scoring ticks until the game period is fully scored and the
// delayed replay has caught up, or ctx ends. On restart it resumes from the
// last persisted tick.
func (s *Scorer) Run(ctx context.Context) error {
	lastCalcTime, err := s.db.LastCalcTime()
	if err != nil {
		return fmt.Errorf("load last tick: %w", err)
	}
	needImport := true

	for ctx.Err() == nil {
		if err := s.waitForTick(ctx, lastCalcTime); err != nil {
			return err
		}

		started := time.Now()
		now := lastCalcTime + s.tuning.CalcPeriod
		s.logger.Printf("calc start tick=%d game_now=%d", now, s.clock.Now())

		if now <= s.master.Period {
			if err := s.tick(lastCalcTime, now, needImport); err != nil {
				return err
			}
			needImport = false
			lastCalcTime = now
		}

		nowAdmin := s.clock.Now() - s.tuning.SpectatorDelay
		if len(s.topUserIDs) > 0 && nowAdmin >= 0 {
			if err := publishReplay(s.store, s.topUserIDs, s.topUserIdx, nowAdmin); err != nil {
				return err
			}
		}

		s.logger.Printf("calc end   tick=%d took=%s", now, time.Since(started))

		if lastCalcTime >= s.master.Period && nowAdmin >= s.master.Period {
			return nil
		}
	}
	return ctx.Err()
}

// waitForTick sleeps until the tick after last is ripe: the wall clock, held
// back by the calc delay so late-arriving moves still count, must pass the
// tick boundary.
func (s *Scorer) waitForTick(ctx context.Context, last int64) error {
	for {
		t := s.clock.Now() - s.tuning.CalcDelay
		if t >= last+s.tuning.CalcPeriod {
			return nil
		}
		timer := time.NewTimer(time.Duration(last+s.tuning.CalcPeriod-t) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (s *Scorer) tick(lastCalcTime, now int64, needImport bool) error {
	resources := s.master.ResourcesWhere(lastCalcTime, now)
	cells := make(map[cell]struct{}, len(resources))
	for _, r := range resources {
		cells[cell{X: r.X, Y: r.Y}] = struct{}{}
	}

	s.refreshRoster()

	if needImport && lastCalcTime > 0 {
		if err := s.importBackup(lastCalcTime); err != nil {
			return err
		}
	}

	// Fence: once the tick is announced, no move at or before it commits.
	s.store.Update(func(tx *store.Tx) {
		tx.Data.CalcTime = now
	})

	sumDict := map[int][]int{}
	for i := 0; i < len(s.userIDs); i += s.tuning.CalcBatch {
		batch := s.userIDs[i:min(i+s.tuning.CalcBatch, len(s.userIDs))]
		batchDeltas := make([]map[cell]map[int64]int, len(batch))
		s.store.View(func(d *store.Data) {
			for j, userID := range batch {
				batchDeltas[j] = occupancyDeltas(d, userID, lastCalcTime, now, cells)
			}
		})
		for j, userID := range batch {
			if err := s.userData[userID].Update(batchDeltas[j], lastCalcTime, now, sumDict, resources, s.master); err != nil {
				return fmt.Errorf("user %s: %w", userID, err)
			}
		}
	}

	ranking := make([]ranked, 0, len(s.userIDs))
	scoreDict := map[string][]protocol.TypeAmount{}
	backup := map[string]any{}
	scores := map[string]float64{}
	amounts := map[string]float64{}
	for _, userID := range s.userIDs {
		ud := s.userData[userID]
		point, sd := ud.Calc(sumDict, resources)
		ranking = append(ranking, ranked{point: point, userID: userID})
		scoreDict[userID] = sd
		for _, ta := range sd {
			scores[userID+"_"+ta.Type] = ta.Amount
		}
		for id, v := range ud.ProgressAmounts() {
			if v > 0 {
				amounts[fmt.Sprintf("%s_%d", userID, id)] = v
			}
		}
		if e := ud.Export(); e != nil {
			backup[userID] = e
		}
	}

	s.store.Update(func(tx *store.Tx) {
		for k, v := range scores {
			tx.Data.Scores[k] = v
		}
		for k, v := range amounts {
			tx.Data.Amounts[k] = v
		}
		tx.Data.LastCalcTime = now
	})

	backupJSON, err := json.Marshal(backup)
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	if err := s.db.SaveBackup(now, backupJSON); err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	if err := s.db.SetLastCalcTime(now); err != nil {
		return fmt.Errorf("save last tick: %w", err)
	}

	s.publishRanking(ranking, scoreDict)

	if now%s.tuning.RankingPeriod == 0 {
		ranks := denseRanks(ranking)
		entries := make([]protocol.RankingEntry, len(ranking))
		for i, r := range ranking {
			entries[i] = protocol.RankingEntry{Point: r.point, UserID: r.userID, Rank: ranks[i]}
		}
		if err := s.db.SaveLeaderboard(now, entries); err != nil {
			return fmt.Errorf("save leaderboard: %w", err)
		}
		s.logger.Printf("leaderboard snapshot tick=%d users=%d", now, len(entries))
	}
	return nil
}

// refreshRoster appends users that joined since the last tick. Indexes are
// stable for the lifetime of the run; new users sort deterministically.
func (s *Scorer) refreshRoster() {
	var joined []string
	s.store.View(func(d *store.Data) {
		for _, userID := range d.Tokens {
			if _, ok := s.userData[userID]; !ok {
				joined = append(joined, userID)
			}
		}
	})
	sort.Strings(joined)
	for _, userID := range joined {
		if _, ok := s.userData[userID]; ok {
			continue
		}
		s.userIDs = append(s.userIDs, userID)
		s.userData[userID] = NewUserData(s.types)
		s.userIdx[userID] = len(s.userIDs)
	}
}

func (s *Scorer) importBackup(tick int64) error {
	data, err := s.db.LoadBackup(tick)
	if err != nil {
		return fmt.Errorf("load backup %d: %w", tick, err)
	}
	if data == nil {
		return fmt.Errorf("no backup for tick %d", tick)
	}
	var backup map[string]json.RawMessage
	if err := json.Unmarshal(data, &backup); err != nil {
		return fmt.Errorf("parse backup %d: %w", tick, err)
	}
	for userID, raw := range backup {
		ud, ok := s.userData[userID]
		if !ok {
			return fmt.Errorf("backup %d references unknown user %s", tick, userID)
		}
		if err := ud.Import(raw); err != nil {
			return fmt.Errorf("import user %s: %w", userID, err)
		}
	}
	s.logger.Printf("imported score backup tick=%d users=%d", tick, len(backup))
	return nil
}

// publishRanking fans the tick's leaderboard out: the spectator topic gets
// the top list, and every user gets the top list with themselves spliced into
// the last slot when they fall outside it.
func (s *Scorer) publishRanking(ranking []ranked, scoreDict map[string][]protocol.TypeAmount) {
	sortRanking(ranking)
	ranks := denseRanks(ranking)

	n := min(len(ranking), s.tuning.NumRanking)
	top := make([]protocol.RankingEntry, n)
	s.topUserIDs = make([]string, n)
	s.topUserIdx = make([]int, n)
	for i := 0; i < n; i++ {
		top[i] = protocol.RankingEntry{Point: ranking[i].point, UserID: ranking[i].userID, Rank: ranks[i]}
		s.topUserIDs[i] = ranking[i].userID
		s.topUserIdx[i] = s.userIdx[ranking[i].userID]
	}

	s.publishRankingEvent(protocol.SpectatorTopic, top, []protocol.TypeAmount{})

	for i, r := range ranking {
		if i >= s.tuning.NumRanking {
			top[s.tuning.NumRanking-1] = protocol.RankingEntry{Point: r.point, UserID: r.userID, Rank: ranks[i]}
		}
		s.publishRankingEvent(r.userID, top, scoreDict[r.userID])
	}
}

func (s *Scorer) publishRankingEvent(topic string, top []protocol.RankingEntry, owned []protocol.TypeAmount) {
	payload, err := json.Marshal(protocol.RankingEvent{
		Type:          protocol.EventRanking,
		Ranking:       top,
		OwnedResource: owned,
	})
	if err != nil {
		s.logger.Printf("marshal ranking: %v", err)
		return
	}
	s.store.Publish(topic, protocol.RankingFrame(payload))
}
