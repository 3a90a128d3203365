package game

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning collects every operational knob. All durations are in game time
// units (milliseconds).
type Tuning struct {
	// Minimum interval between admitted requests, per operation class.
	GameTimeLimit      int64 `yaml:"game_time_limit"`
	MoveTimeLimit      int64 `yaml:"move_time_limit"`
	ResourcesTimeLimit int64 `yaml:"resources_time_limit"`
	StreamTimeLimit    int64 `yaml:"stream_time_limit"`

	// Resources become visible this long before their window opens.
	ResourceLead int64 `yaml:"resource_lead"`

	// Streaming session behavior.
	StreamIdleTimeout int64 `yaml:"stream_idle_timeout"`
	StreamSettleDelay int64 `yaml:"stream_settle_delay"`

	// Spectator sessions run this far behind the live clock.
	SpectatorDelay int64 `yaml:"spectator_delay"`

	// Scoring cadence.
	CalcPeriod    int64 `yaml:"calc_period"`
	CalcDelay     int64 `yaml:"calc_delay"`
	CalcBatch     int   `yaml:"calc_batch"`
	NumRanking    int   `yaml:"num_ranking"`
	RankingPeriod int64 `yaml:"ranking_period"`
}

func Defaults() Tuning {
	return Tuning{
		GameTimeLimit:      1000,
		MoveTimeLimit:      100,
		ResourcesTimeLimit: 1000,
		StreamTimeLimit:    1000,
		ResourceLead:       10000,
		StreamIdleTimeout:  5000,
		StreamSettleDelay:  500,
		SpectatorDelay:     2000,
		CalcPeriod:         500,
		CalcDelay:          1000,
		CalcBatch:          50,
		NumRanking:         10,
		RankingPeriod:      60000,
	}
}

// LoadTuning reads a tuning file. Missing keys keep their defaults.
func LoadTuning(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// LoadUsers reads the token roster: a yaml mapping token -> user id.
func LoadUsers(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f struct {
		Tokens map[string]string `yaml:"tokens"`
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("users.yaml: %w", err)
	}
	return f.Tokens, nil
}
