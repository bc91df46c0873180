package correlate

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/citysense/internal/fact"
)

// Evidence ties a decision back to one fact that justified it.
type Evidence struct {
	Rule string    `json:"rule"`
	Fact fact.Fact `json:"fact"`
}

// Decision is one action the engine recommends for an entity. When
// several rules propose the same action for the same entity, their
// drafts merge: priorities sum, rationales and evidence accumulate in
// rule declaration order.
type Decision struct {
	ID        string         `json:"id"`
	Tick      int64          `json:"tick"`
	Entity    fact.EntityRef `json:"entity"`
	Action    string         `json:"action"`
	Priority  int            `json:"priority"`
	Rationale []string       `json:"rationale"`
	Rules     []string       `json:"rules"`
	Evidence  []Evidence     `json:"evidence"`
	CreatedAt time.Time      `json:"created_at"`
}

// decisionID derives a stable UUID: the same tick, entity and action
// always produce the same ID, so identical runs emit identical output.
func decisionID(tick int64, entity, action string) string {
	name := fmt.Sprintf("%d|%s|%s", tick, entity, action)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// rank orders decisions by priority descending, then earliest
// contributing-fact timestamp, then entity ID, then action. The final
// two keys make the order total, independent of map iteration.
func rank(ds []Decision) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority > ds[j].Priority
		}
		ti, tj := earliestEvidence(ds[i]), earliestEvidence(ds[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if ds[i].Entity.ID != ds[j].Entity.ID {
			return ds[i].Entity.ID < ds[j].Entity.ID
		}
		return ds[i].Action < ds[j].Action
	})
}

func earliestEvidence(d Decision) time.Time {
	var t time.Time
	for i, ev := range d.Evidence {
		if i == 0 || ev.Fact.Timestamp.Before(t) {
			t = ev.Fact.Timestamp
		}
	}
	return t
}
