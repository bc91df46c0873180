package simulate

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/citysense/internal/fact"
	"github.com/abelbrown/citysense/internal/observe"
)

// Config controls the generator.
type Config struct {
	Seed          int64
	MalformedRate float64    // probability per reading of a corrupted record
	Pace          rate.Limit // batches per second; 0 disables pacing
	Vehicles      int        // tracked vehicles per traffic batch
}

func (c Config) withDefaults() Config {
	if c.Vehicles == 0 {
		c.Vehicles = 3
	}
	return c
}

// Generator produces per-domain reading batches for the catalog.
// Each domain draws from its own seeded random stream, so concurrent
// fetches of different domains never perturb each other and a given
// seed always yields the same batches.
type Generator struct {
	cfg     Config
	limiter *rate.Limiter

	mu      sync.Mutex
	streams map[fact.Domain]*stream
}

// stream carries one domain's random source and slow-moving state.
type stream struct {
	rng       *rand.Rand
	condition string
	health    map[string]float64
	signal    map[string]string
	signalTTL map[string]int
}

func New(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	g := &Generator{
		cfg:     cfg,
		streams: make(map[fact.Domain]*stream),
	}
	if cfg.Pace > 0 {
		g.limiter = rate.NewLimiter(cfg.Pace, 1)
	}
	for _, d := range fact.Domains() {
		g.streams[d] = newStream(cfg.Seed, d)
	}
	return g
}

func newStream(seed int64, d fact.Domain) *stream {
	h := fnv.New64a()
	h.Write([]byte(d))
	s := &stream{
		rng:       rand.New(rand.NewSource(seed ^ int64(h.Sum64()))),
		condition: observe.ConditionClear,
		health:    make(map[string]float64),
		signal:    make(map[string]string),
		signalTTL: make(map[string]int),
	}
	for _, e := range structures() {
		if e.Kind == KindBridge {
			s.health[e.ID] = 0.84
		} else {
			s.health[e.ID] = 0.93
		}
	}
	for _, e := range signalized() {
		s.signal[e.ID] = observe.SignalOperational
	}
	return s
}

// Fetch produces one batch for the domain at the given wall time.
// It implements the coordinator's feed contract.
func (g *Generator) Fetch(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.streams[domain]
	if !ok {
		return nil, fmt.Errorf("simulate: no stream for domain %q", domain)
	}

	var batch []observe.Reading
	switch domain {
	case fact.DomainTraffic:
		batch = g.trafficBatch(s, now)
	case fact.DomainWeather:
		batch = g.weatherBatch(s, now)
	case fact.DomainAirQuality:
		batch = g.airBatch(s, now)
	case fact.DomainInfrastructure:
		batch = g.infraBatch(s, now)
	}
	g.corrupt(s, batch)
	return batch, nil
}

func (g *Generator) trafficBatch(s *stream, now time.Time) []observe.Reading {
	rush := isRushHour(now)
	var batch []observe.Reading
	for _, e := range roadEntities() {
		base := 65.0
		lanes := e.Lanes
		if e.Kind == KindIntersection {
			base = 35
			lanes = 2
		}
		speed := base * (0.85 + 0.3*s.rng.Float64())
		count := 8 + s.rng.Float64()*14
		if rush {
			speed *= 0.35
			count *= 2.8
		}
		occupancy := math.Min(0.97, count/(float64(lanes)*18))
		batch = append(batch, observe.Reading{
			Domain:    fact.DomainTraffic,
			SensorID:  "loop-" + e.ID,
			Entity:    e.ID,
			Timestamp: now,
			Values: map[string]float64{
				"average_speed": round1(speed),
				"vehicle_count": math.Floor(count),
				"occupancy":     round2(occupancy),
			},
		})
	}
	for i := 1; i <= g.cfg.Vehicles; i++ {
		batch = append(batch, observe.Reading{
			Domain:    fact.DomainTraffic,
			SensorID:  fmt.Sprintf("gps-VEH%d", i),
			Entity:    fmt.Sprintf("VEH%d", i),
			Timestamp: now,
			Values: map[string]float64{
				"speed":            round1(35 + s.rng.Float64()*55),
				"max_acceleration": round1(s.rng.Float64() * 7),
				"avg_braking":      round1(s.rng.Float64() * 9),
			},
			Labels: map[string]string{observe.LabelType: observe.TypeVehicle},
		})
	}
	return batch
}

func (g *Generator) weatherBatch(s *stream, now time.Time) []observe.Reading {
	// Conditions are sticky: most batches keep the previous one.
	if s.rng.Float64() < 0.15 {
		s.condition = pickCondition(s.rng)
	}

	var batch []observe.Reading
	for _, id := range weatherStations() {
		var visibility, precipitation, temp float64
		switch s.condition {
		case observe.ConditionFoggy:
			visibility = 0.1 + s.rng.Float64()*0.8
			temp = 6 + s.rng.Float64()*6
		case observe.ConditionSnowy:
			visibility = 0.5 + s.rng.Float64()*1.5
			precipitation = 0.5 + s.rng.Float64()*3.5
			temp = -5 + s.rng.Float64()*6
		case observe.ConditionRainy:
			visibility = 1.5 + s.rng.Float64()*2.5
			precipitation = 1 + s.rng.Float64()*5
			temp = 8 + s.rng.Float64()*10
		case observe.ConditionCloudy:
			visibility = 4 + s.rng.Float64()*4
			temp = 10 + s.rng.Float64()*12
		default:
			visibility = 8 + s.rng.Float64()*4
			temp = 12 + s.rng.Float64()*14
		}
		wind := 3 + s.rng.Float64()*15
		if s.condition == observe.ConditionRainy || s.condition == observe.ConditionSnowy {
			wind += s.rng.Float64() * 10
		}
		humidity := 50 + s.rng.Float64()*30
		if precipitation > 0 || s.condition == observe.ConditionFoggy {
			humidity = 80 + s.rng.Float64()*15
		}
		batch = append(batch, observe.Reading{
			Domain:    fact.DomainWeather,
			SensorID:  "wx-" + id,
			Entity:    id,
			Timestamp: now,
			Values: map[string]float64{
				"temperature":   round1(temp),
				"humidity":      round1(humidity),
				"visibility":    round2(visibility),
				"precipitation": round1(precipitation),
				"wind_speed":    round1(wind),
			},
			Labels: map[string]string{
				observe.LabelCondition:    s.condition,
				observe.LabelEntityDomain: string(fact.DomainTraffic),
			},
		})
	}
	return batch
}

func (g *Generator) airBatch(s *stream, now time.Time) []observe.Reading {
	rush := isRushHour(now)
	var batch []observe.Reading
	for _, id := range airStations() {
		pm25 := 14 + s.rng.Float64()*16
		co := 0.8 + s.rng.Float64()*1.6
		if rush {
			pm25 += 24 + s.rng.Float64()*20
			co += 1.5 + s.rng.Float64()*2
		}
		batch = append(batch, observe.Reading{
			Domain:    fact.DomainAirQuality,
			SensorID:  "aq-" + id,
			Entity:    id,
			Timestamp: now,
			Values: map[string]float64{
				"pm25": round1(pm25),
				"co":   round2(co),
				"no2":  round1(10 + s.rng.Float64()*25),
				"o3":   round1(20 + s.rng.Float64()*40),
			},
			Labels: map[string]string{
				observe.LabelEntityDomain: string(fact.DomainTraffic),
			},
		})
	}
	return batch
}

func (g *Generator) infraBatch(s *stream, now time.Time) []observe.Reading {
	var batch []observe.Reading
	for _, e := range structures() {
		// Structures degrade slowly with a little sensor jitter.
		h := s.health[e.ID] - 0.0004 + (s.rng.Float64()-0.5)*0.004
		h = math.Max(0.05, math.Min(1, h))
		s.health[e.ID] = h
		batch = append(batch, observe.Reading{
			Domain:    fact.DomainInfrastructure,
			SensorID:  "strain-" + e.ID,
			Entity:    e.ID,
			Timestamp: now,
			Values:    map[string]float64{"structural_health": round3(h)},
		})
	}
	for _, e := range signalized() {
		if s.signalTTL[e.ID] > 0 {
			s.signalTTL[e.ID]--
		} else {
			switch p := s.rng.Float64(); {
			case p < 0.02:
				s.signal[e.ID] = observe.SignalMalfunction
				s.signalTTL[e.ID] = 3
			case p < 0.07:
				s.signal[e.ID] = observe.SignalDegraded
				s.signalTTL[e.ID] = 2
			default:
				s.signal[e.ID] = observe.SignalOperational
			}
		}
		batch = append(batch, observe.Reading{
			Domain:    fact.DomainInfrastructure,
			SensorID:  "ctl-" + e.ID,
			Entity:    e.ID,
			Timestamp: now,
			Labels: map[string]string{
				observe.LabelType:         observe.TypeSignal,
				observe.LabelSignalStatus: s.signal[e.ID],
				observe.LabelEntityDomain: string(fact.DomainTraffic),
			},
		})
	}
	return batch
}

// corrupt damages a fraction of readings in place so observers have
// something to skip. Key choice is sorted, not map-ordered, to keep
// runs reproducible.
func (g *Generator) corrupt(s *stream, batch []observe.Reading) {
	if g.cfg.MalformedRate <= 0 {
		return
	}
	for i := range batch {
		if s.rng.Float64() >= g.cfg.MalformedRate {
			continue
		}
		switch s.rng.Intn(3) {
		case 0:
			batch[i].Entity = ""
		case 1:
			batch[i].Timestamp = time.Time{}
		default:
			keys := make([]string, 0, len(batch[i].Values))
			for k := range batch[i].Values {
				keys = append(keys, k)
			}
			if len(keys) == 0 {
				batch[i].Entity = ""
				continue
			}
			sort.Strings(keys)
			delete(batch[i].Values, keys[s.rng.Intn(len(keys))])
		}
	}
}

func pickCondition(rng *rand.Rand) string {
	switch p := rng.Float64(); {
	case p < 0.40:
		return observe.ConditionClear
	case p < 0.65:
		return observe.ConditionCloudy
	case p < 0.80:
		return observe.ConditionRainy
	case p < 0.90:
		return observe.ConditionFoggy
	default:
		return observe.ConditionSnowy
	}
}

func isRushHour(t time.Time) bool {
	h := t.Hour()
	return (h >= 7 && h < 9) || (h >= 16 && h < 18)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
