// Package store is the shared state store for the game: all mutable state
// lives behind a single transaction boundary, and committed changes fan out
// to live sessions through a topic bus.
//
// The store is deliberately in-process. Every Update runs to completion while
// holding the store lock, so concurrent callers for the same agent serialize
// in submission order and no caller ever observes a half-applied transaction.
package store

import "sync"

// AgentKey addresses one agent slot of one user.
type AgentKey struct {
	UserID string
	Idx    int
}

// AgentState is the persisted movement state of a single agent.
//
// (X0,Y0,T0) is the anchor: the last fully committed position. When HasLeg is
// set the agent travels the straight line to (X1,Y1), arriving at T1. When
// HasPlan is set a future move toward (X3,Y3) takes effect at T2.
type AgentState struct {
	X0, Y0 float64
	T0     int64

	HasLeg bool
	X1, Y1 float64
	T1     int64

	HasPlan bool
	T2      int64
	X3, Y3  float64
}

// Occupancy records that an agent sat on cell (X,Y) during [From,To).
// Records are append-only and never overlap for one agent.
type Occupancy struct {
	X, Y     float64
	From, To int64
}

// Data is the full game state guarded by the store lock.
type Data struct {
	// Agent movement state, committed cell stays, and the raw record strings
	// replayed for spectators.
	Agents  map[AgentKey]*AgentState
	History map[AgentKey][]Occupancy
	Records map[AgentKey][]string

	// token -> user id.
	Tokens map[string]string

	// "user_TYPE" -> per-type score, "user_resourceID" -> in-progress amount.
	Scores  map[string]float64
	Amounts map[string]float64

	// Per-(operation class, user) unlock times.
	Unlocks map[string]int64

	// Scoring fences. CalcTime is the tick currently (or last) being read by
	// the scoring engine; moves at or before it are refused. -1 means no tick
	// has run yet.
	CalcTime     int64
	LastCalcTime int64

	// Game window, mirrored here for observability.
	StartAt int64
	Period  int64
}

// Tx is the handle passed to Update callbacks. Publishes are delivered in
// commit order, before the next transaction can run.
type Tx struct {
	Data *Data

	pub []frame
}

type frame struct {
	topic string
	msg   []byte
}

// Publish queues a message for the topic; it is delivered when the
// transaction commits.
func (tx *Tx) Publish(topic string, msg []byte) {
	tx.pub = append(tx.pub, frame{topic: topic, msg: msg})
}

type Store struct {
	mu   sync.Mutex
	data Data
	bus  *Bus
}

func New() *Store {
	s := &Store{bus: NewBus()}
	s.data = freshData()
	return s
}

func freshData() Data {
	return Data{
		Agents:   map[AgentKey]*AgentState{},
		History:  map[AgentKey][]Occupancy{},
		Records:  map[AgentKey][]string{},
		Tokens:   map[string]string{},
		Scores:   map[string]float64{},
		Amounts:  map[string]float64{},
		Unlocks:  map[string]int64{},
		CalcTime: -1,
	}
}

// Update runs fn as one atomic transaction and then delivers its publishes,
// still ahead of any later transaction on any topic.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := Tx{Data: &s.data}
	fn(&tx)
	for _, f := range tx.pub {
		s.bus.Publish(f.topic, f.msg)
	}
}

// View runs fn with read access. Reads serialize with writes, so a View sees
// only fully committed state.
func (s *Store) View(fn func(d *Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

// Publish sends directly to the bus, outside any transaction.
func (s *Store) Publish(topic string, msg []byte) {
	s.bus.Publish(topic, msg)
}

func (s *Store) Subscribe(topic string) *Subscription {
	return s.bus.Subscribe(topic)
}

// UserID resolves an access token, or "" when unknown.
func (s *Store) UserID(token string) string {
	var id string
	s.View(func(d *Data) { id = d.Tokens[token] })
	return id
}

// Reset clears all volatile game state while keeping the token table, so a
// fresh game can start against the same roster.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := s.data.Tokens
	startAt, period := s.data.StartAt, s.data.Period
	s.data = freshData()
	s.data.Tokens = tokens
	s.data.StartAt, s.data.Period = startAt, period
}
