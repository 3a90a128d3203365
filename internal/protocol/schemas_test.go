package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridhold.gg/internal/master"
	"gridhold.gg/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(decoded); err != nil {
			t.Fatalf("validate %s: %v", raw, err)
		}
	}

	gameSchema := compile("game.schema.json")
	moveSchema := compile("move.schema.json")
	resourceSchema := compile("resource.schema.json")
	rankingSchema := compile("ranking.schema.json")
	signalSchema := compile("signal.schema.json")

	res := master.Resource{ID: 3, X: 12, Y: 7, T0: 60000, T1: 120000, Type: "A", Weight: 40}

	validate(gameSchema, protocol.GameEvent{
		Type:       protocol.EventGame,
		Now:        1500,
		GamePeriod: 600000,
		Agent: []protocol.AgentMoves{
			{Move: []protocol.Waypoint{{X: 0, Y: 0, T: 0}, {X: 30, Y: 0, T: 3000}}},
			{Move: []protocol.Waypoint{{X: 0, Y: 30, T: 1500}}},
		},
		Resource: []master.Resource{res},
		UserID:   "team01",
	})

	validate(moveSchema, protocol.MoveEvent{
		Type: protocol.EventMove,
		Idx:  2,
		Now:  1500,
		Move: []protocol.Waypoint{{X: 15, Y: 0, T: 1500}, {X: 0, Y: 0, T: 3000}},
	})

	validate(resourceSchema, protocol.ResourceEvent{
		Type:     protocol.EventResource,
		Resource: []master.Resource{res},
		Now:      50000,
	})

	validate(rankingSchema, protocol.RankingEvent{
		Type: protocol.EventRanking,
		Ranking: []protocol.RankingEntry{
			{Point: 5.0, UserID: "team02", Rank: 1},
			{Point: 3.0, UserID: "team01", Rank: 2},
		},
		OwnedResource: []protocol.TypeAmount{{Type: "A", Amount: 0.0015}},
	})

	for _, typ := range []string{
		protocol.EventGameFinished,
		protocol.EventTimeLimit,
		protocol.EventDisconnected,
		protocol.EventUpdate,
	} {
		validate(signalSchema, protocol.SignalEvent{Type: typ})
	}
}
