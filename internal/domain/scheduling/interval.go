package scheduling

import (
	"encoding/json"
	"fmt"
	"time"
)

// Interval is a half-open time range [start, end). The zero value is not a
// valid interval; use NewInterval.
type Interval struct {
	start time.Time
	end   time.Time
}

// NewInterval returns ErrInvalidInterval unless end is strictly after start.
func NewInterval(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidInterval, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Interval{start: start, end: end}, nil
}

func (iv Interval) Start() time.Time { return iv.start }

func (iv Interval) End() time.Time { return iv.end }

func (iv Interval) Duration() time.Duration { return iv.end.Sub(iv.start) }

func (iv Interval) IsZero() bool { return iv.start.IsZero() && iv.end.IsZero() }

// Overlaps reports whether iv and other share at least one instant.
func (iv Interval) Overlaps(other Interval) bool { return Overlaps(iv, other) }

// Overlaps is the conflict predicate for both booking checks and slot
// enumeration. Intervals that only touch at an endpoint do not overlap.
func Overlaps(a, b Interval) bool {
	return a.start.Before(b.end) && a.end.After(b.start)
}

type intervalJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(intervalJSON{Start: iv.start, End: iv.end})
}

func (iv *Interval) UnmarshalJSON(data []byte) error {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewInterval(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}
