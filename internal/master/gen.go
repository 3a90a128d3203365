package master

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// GenConfig drives the offline resource-schedule generator.
type GenConfig struct {
	Seed                   int64 `yaml:"seed"`
	ResourceTimeResolution int   `yaml:"resource_time_resolution"`
	TargetNumResource      int   `yaml:"target_num_resource"`
	MinNumResource         int   `yaml:"min_num_resource"`
	MaxNumResource         int   `yaml:"max_num_resource"`
	WeightEnd              int   `yaml:"weight_end"`

	Types []GenType `yaml:"types"`
}

type GenType struct {
	Type        string      `yaml:"type"`
	MinTime     int         `yaml:"min_time"`
	MaxTime     int         `yaml:"max_time"`
	Probability int         `yaml:"probability"`
	WeightParams []GenWeight `yaml:"weight_params"`
}

// GenWeight selects a normal distribution for resource weights in the game
// phase starting at Start (on a 0..WeightEnd scale of the whole period).
type GenWeight struct {
	Start int     `yaml:"start"`
	Mu    float64 `yaml:"mu"`
	Sigma float64 `yaml:"sigma"`
}

func LoadGenConfig(path string) (GenConfig, error) {
	var cfg GenConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("map config: %w", err)
	}
	return cfg, cfg.validate()
}

func (cfg GenConfig) validate() error {
	if cfg.ResourceTimeResolution <= 0 {
		return fmt.Errorf("resource_time_resolution must be positive")
	}
	for _, t := range cfg.Types {
		if t.MinTime%cfg.ResourceTimeResolution != 0 || t.MaxTime%cfg.ResourceTimeResolution != 0 {
			return fmt.Errorf("type %s durations must align to resolution %d", t.Type, cfg.ResourceTimeResolution)
		}
		for i := 1; i < len(t.WeightParams); i++ {
			if t.WeightParams[i-1].Start >= t.WeightParams[i].Start {
				return fmt.Errorf("type %s weight params must have increasing starts", t.Type)
			}
		}
	}
	return nil
}

type scheduled struct {
	typ   string
	units int
}

func randomType(rng *rand.Rand, cfg GenConfig) string {
	sum := 0
	for _, t := range cfg.Types {
		sum += t.Probability
	}
	n := rng.Intn(sum)
	for _, t := range cfg.Types {
		if n < t.Probability {
			return t.Type
		}
		n -= t.Probability
	}
	panic("invalid type probability")
}

// generateSchedule packs resource activations into the period so that at
// every moment between MinNumResource and MaxNumResource are active, with a
// total density near TargetNumResource.
func generateSchedule(period int64, cfg GenConfig, rng *rand.Rand) (map[int][]scheduled, error) {
	if period <= 0 || period%int64(cfg.ResourceTimeResolution) != 0 {
		return nil, fmt.Errorf("period %d must be a positive multiple of resolution %d", period, cfg.ResourceTimeResolution)
	}
	units := make(map[string][2]int, len(cfg.Types))
	for _, t := range cfg.Types {
		units[t.Type] = [2]int{t.MinTime / cfg.ResourceTimeResolution, t.MaxTime / cfg.ResourceTimeResolution}
	}

	counter := make([]int, period/int64(cfg.ResourceTimeResolution))
	total := 0
	schedule := map[int][]scheduled{}

	// Base layer: MinNumResource back-to-back chains covering the whole run.
	for k := 0; k < cfg.MinNumResource; k++ {
		for s := 0; s < len(counter); {
			typ := randomType(rng, cfg)
			u := units[typ]
			t := u[0] + rng.Intn(u[1]-u[0]+1)
			if s+t > len(counter) {
				s = len(counter) - t
			}
			schedule[s] = append(schedule[s], scheduled{typ: typ, units: t})
			total += t
			for i := 0; i < t; i++ {
				counter[s+i]++
			}
			s += t
		}
	}

	// Fill toward the target density without exceeding the concurrent cap.
	for total < len(counter)*cfg.TargetNumResource {
		typ := randomType(rng, cfg)
		u := units[typ]
		t := u[0] + rng.Intn(u[1]-u[0]+1)
		placed := false
		for try := 0; try < 1000000; try++ {
			s := rng.Intn(len(counter) - t + 1)
			ok := true
			for i := 0; i < t; i++ {
				if counter[s+i] >= cfg.MaxNumResource {
					ok = false
					break
				}
			}
			if ok {
				schedule[s] = append(schedule[s], scheduled{typ: typ, units: t})
				total += t
				for i := 0; i < t; i++ {
					counter[s+i]++
				}
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("could not place resource of type %s", typ)
		}
	}
	return schedule, nil
}

func selectWeight(cfg GenConfig, params []GenWeight, t0, period int64) GenWeight {
	for i := 1; i < len(params); i++ {
		if t0*int64(cfg.WeightEnd) < int64(params[i].Start)*period {
			return params[i-1]
		}
	}
	return params[len(params)-1]
}

// Generate builds the full resource schedule for a game of the given period.
// Agent start cells never host resources, and no two concurrently active
// resources share a cell.
func Generate(period int64, cfg GenConfig) (*MasterData, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))

	typeByName := map[string]GenType{}
	for _, t := range cfg.Types {
		typeByName[t.Type] = t
	}

	schedule, err := generateSchedule(period, cfg, rng)
	if err != nil {
		return nil, err
	}

	var points [][2]int
	for x := 0; x <= 30; x++ {
		for y := 0; y <= 30; y++ {
			switch {
			case x == 0 && y == 0, x == 0 && y == 30, x == 15 && y == 15,
				x == 30 && y == 0, x == 30 && y == 30:
				continue
			}
			points = append(points, [2]int{x, y})
		}
	}

	var resources []Resource
	freed := map[int][][2]int{}
	for t := 0; int64(t) < period/int64(cfg.ResourceTimeResolution); t++ {
		points = append(points, freed[t]...)
		for _, sc := range schedule[t] {
			id := len(resources) + 1

			pi := rng.Intn(len(points))
			p := points[pi]
			points = append(points[:pi], points[pi+1:]...)
			freed[t+sc.units] = append(freed[t+sc.units], p)

			t0 := int64(t) * int64(cfg.ResourceTimeResolution)
			t1 := int64(t+sc.units) * int64(cfg.ResourceTimeResolution)

			w := selectWeight(cfg, typeByName[sc.typ].WeightParams, t0, period)
			weight := int64(math.Round(rng.NormFloat64()*w.Sigma + w.Mu))
			if weight < 1 {
				weight = 1
			}

			resources = append(resources, Resource{
				ID:     id,
				X:      p[0],
				Y:      p[1],
				T0:     int(t0),
				T1:     int(t1),
				Type:   sc.typ,
				Weight: int(weight),
			})
		}
	}
	return New(resources, period), nil
}
