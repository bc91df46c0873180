package observe

import (
	"context"
	"testing"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

func flowReading(entity string, speed, count, occupancy float64) Reading {
	return Reading{
		Domain:    fact.DomainTraffic,
		SensorID:  "loop-" + entity,
		Entity:    entity,
		Timestamp: testTime,
		Values: map[string]float64{
			"average_speed": speed,
			"vehicle_count": count,
			"occupancy":     occupancy,
		},
	}
}

func vehicleReading(id string, speed, accel, braking float64) Reading {
	return Reading{
		Domain:    fact.DomainTraffic,
		SensorID:  "gps-" + id,
		Entity:    id,
		Timestamp: testTime,
		Values: map[string]float64{
			"speed":            speed,
			"max_acceleration": accel,
			"avg_braking":      braking,
		},
		Labels: map[string]string{LabelType: TypeVehicle},
	}
}

func TestTrafficIngestFlow(t *testing.T) {
	o := NewTraffic()
	c, err := o.Ingest(context.Background(), []Reading{flowReading("HWY1", 8.2, 52, 0.91)})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(c.Skipped) != 0 {
		t.Fatalf("unexpected skips: %v", c.Skipped)
	}
	if len(c.Facts) != 4 {
		t.Fatalf("expected 4 facts, got %d", len(c.Facts))
	}

	speed := findFact(t, c.Facts, fact.PredAverageSpeed)
	if speed.Object.FloatVal() != 8.2 {
		t.Errorf("hasAverageSpeed = %v, want 8.2", speed.Object.FloatVal())
	}
	if speed.Subject.ID != "HWY1" || speed.Subject.Domain != fact.DomainTraffic {
		t.Errorf("wrong subject: %+v", speed.Subject)
	}
	if speed.Source != "traffic-observer" {
		t.Errorf("wrong source: %q", speed.Source)
	}

	count := findFact(t, c.Facts, fact.PredVehicleCount)
	if count.Object.Kind() != fact.LitInt {
		t.Errorf("hasVehicleCount kind = %v, want int", count.Object.Kind())
	}

	level := findFact(t, c.Facts, fact.PredCongestionLevel)
	if level.Object.StringVal() != CongestionHigh {
		t.Errorf("congestionLevel = %q, want high", level.Object.StringVal())
	}

	if len(c.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(c.Alerts))
	}
	a := c.Alerts[0]
	if a.Code != CodeCongestion || a.Severity != fact.SeverityCritical {
		t.Errorf("alert = (%s, %s), want (congestion, critical)", a.Code, a.Severity)
	}
}

func TestTrafficFreeFlowRaisesNoAlert(t *testing.T) {
	o := NewTraffic()
	c, err := o.Ingest(context.Background(), []Reading{flowReading("HWY1", 62, 12, 0.2)})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	level := findFact(t, c.Facts, fact.PredCongestionLevel)
	if level.Object.StringVal() != CongestionFreeFlow {
		t.Errorf("congestionLevel = %q, want free_flow", level.Object.StringVal())
	}
	if len(c.Alerts) != 0 {
		t.Errorf("expected no alerts at free flow, got %d", len(c.Alerts))
	}
}

func TestTrafficIngestVehicle(t *testing.T) {
	o := NewTraffic()
	c, err := o.Ingest(context.Background(), []Reading{vehicleReading("VEH7", 92, 6.4, 8.8)})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	score := findFact(t, c.Facts, fact.PredRiskScore)
	if score.Object.IntVal() != 100 {
		t.Errorf("hasRiskScore = %d, want 100", score.Object.IntVal())
	}
	if len(c.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(c.Alerts))
	}
	if c.Alerts[0].Code != CodeHighRiskVehicle {
		t.Errorf("alert code = %q, want high-risk-driving", c.Alerts[0].Code)
	}

	// A calm vehicle produces a fact but no alert
	c, err = o.Ingest(context.Background(), []Reading{vehicleReading("VEH8", 45, 1.0, 1.2)})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	score = findFact(t, c.Facts, fact.PredRiskScore)
	if score.Object.IntVal() != 10 {
		t.Errorf("hasRiskScore = %d, want 10", score.Object.IntVal())
	}
	if len(c.Alerts) != 0 {
		t.Errorf("expected no alerts for calm vehicle, got %d", len(c.Alerts))
	}
}

func TestTrafficSkipsMalformed(t *testing.T) {
	o := NewTraffic()

	missingEntity := flowReading("", 30, 10, 0.2)

	zeroTime := flowReading("HWY1", 30, 10, 0.2)
	zeroTime.Timestamp = time.Time{}

	missingKey := flowReading("HWY2", 30, 10, 0.2)
	delete(missingKey.Values, "occupancy")

	outOfRange := flowReading("INT1", -5, 10, 0.2)

	unknownType := flowReading("INT2", 30, 10, 0.2)
	unknownType.Labels = map[string]string{LabelType: "radar"}

	good := flowReading("HWY1", 30, 10, 0.2)

	c, err := o.Ingest(context.Background(), []Reading{
		missingEntity, zeroTime, missingKey, outOfRange, unknownType, good,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(c.Skipped) != 5 {
		for _, s := range c.Skipped {
			t.Logf("skipped: %v", s)
		}
		t.Fatalf("expected 5 skipped records, got %d", len(c.Skipped))
	}
	// The good record still made it through
	if !hasFact(c.Facts, fact.PredAverageSpeed) {
		t.Error("well-formed record was not ingested")
	}
	for _, s := range c.Skipped {
		if s.Observer != "traffic-observer" {
			t.Errorf("skip attributed to %q", s.Observer)
		}
	}
}

func TestTrafficIngestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewTraffic()
	c, err := o.Ingest(ctx, []Reading{flowReading("HWY1", 30, 10, 0.2)})
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(c.Facts) != 0 {
		t.Errorf("cancelled ingest returned %d facts", len(c.Facts))
	}
}

func TestCongestionBand(t *testing.T) {
	cases := []struct {
		speed float64
		want  string
	}{
		{3, CongestionHigh},
		{9.9, CongestionHigh},
		{10, CongestionMedium},
		{19.9, CongestionMedium},
		{20, CongestionFreeFlow},
		{80, CongestionFreeFlow},
	}
	for _, tc := range cases {
		if got := congestionBand(tc.speed); got != tc.want {
			t.Errorf("congestionBand(%v) = %q, want %q", tc.speed, got, tc.want)
		}
	}
}

func TestRiskScore(t *testing.T) {
	cases := []struct {
		speed, accel, braking float64
		want                  int64
	}{
		{30, 1, 1, 0},
		{45, 1, 1, 10},
		{65, 1, 1, 20},
		{85, 1, 1, 40},
		{85, 6.5, 9, 100},
		{50, 4.5, 5.5, 50},
	}
	for _, tc := range cases {
		if got := riskScore(tc.speed, tc.accel, tc.braking); got != tc.want {
			t.Errorf("riskScore(%v, %v, %v) = %d, want %d",
				tc.speed, tc.accel, tc.braking, got, tc.want)
		}
	}
}
