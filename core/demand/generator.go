package demand

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/scenario"
)

// DefaultSeed is used when a start request carries no seed.
const DefaultSeed = 42

// DefaultDivertShare is the portion of vehicles taking a non-default exit.
const DefaultDivertShare = 0.2

// Config drives schedule generation for one run.
type Config struct {
	Scenario    scenario.Scenario
	Window      Window
	Seed        int64
	Hourly      []HourlyDemand
	DivertShare float64
}

// Generate builds the arrival schedule for one run. Arrivals are Poisson per
// approach: exponential inter-arrival gaps at each hour's rate, merged over
// all approaches and sorted by time. The same config always yields the same
// schedule.
func Generate(cfg Config) (*Schedule, error) {
	if err := cfg.Window.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Hourly) != cfg.Window.Hours() {
		return nil, fmt.Errorf("demand rows cover %d hours, window needs %d", len(cfg.Hourly), cfg.Window.Hours())
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var arrivals []Arrival
	for hi, row := range cfg.Hourly {
		offset := float64(hi) * 3600
		for _, ap := range cfg.Scenario.Approaches {
			rate := row.Lambda * row.Shares[ap.ID] / 3600
			if rate <= 0 {
				continue
			}
			for t := rng.ExpFloat64() / rate; t < 3600; t += rng.ExpFloat64() / rate {
				a := Arrival{
					Time:  offset + t,
					Class: sampleClass(rng),
					Entry: ap.ID,
					Exit:  cfg.Scenario.DefaultExit(ap.ID),
				}
				if cfg.DivertShare > 0 && rng.Float64() < cfg.DivertShare {
					a.Exit = divertExit(cfg.Scenario, a.Entry, a.Exit, rng)
				}
				arrivals = append(arrivals, a)
			}
		}
	}

	// Stable sort keeps generation order for equal times, so IDs assigned
	// below are reproducible.
	sort.SliceStable(arrivals, func(i, j int) bool { return arrivals[i].Time < arrivals[j].Time })
	for i := range arrivals {
		arrivals[i].ID = fmt.Sprintf("veh-%05d", i)
	}

	return &Schedule{
		arrivals: arrivals,
		window:   cfg.Window,
		seed:     cfg.Seed,
		location: cfg.Scenario.ID,
	}, nil
}

func sampleClass(rng *rand.Rand) model.VehicleClass {
	u := rng.Float64()
	var cum float64
	for _, cs := range model.ClassMix {
		cum += cs.Share
		if u < cum {
			return cs.Class
		}
	}
	return model.ClassMix[len(model.ClassMix)-1].Class
}

// divertExit picks a non-default exit so a slice of traffic turns instead of
// running straight through.
func divertExit(sc scenario.Scenario, entry, def string, rng *rand.Rand) string {
	others := make([]string, 0, len(sc.Approaches))
	for _, a := range sc.Approaches {
		if a.ID != entry && a.ID != def {
			others = append(others, a.ID)
		}
	}
	if len(others) == 0 {
		return def
	}
	return others[rng.Intn(len(others))]
}
