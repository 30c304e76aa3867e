package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func mustInterval(t *testing.T, start, end time.Time) Interval {
	t.Helper()
	iv, err := NewInterval(start, end)
	if err != nil {
		t.Fatalf("NewInterval(%s, %s): %v", start, end, err)
	}
	return iv
}

func TestNewInterval_RejectsNonPositive(t *testing.T) {
	for name, end := range map[string]time.Time{
		"equal":    at(9, 0),
		"reversed": at(8, 59),
	} {
		if _, err := NewInterval(at(9, 0), end); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("%s: expected ErrInvalidInterval, got %v", name, err)
		}
	}
}

func TestOverlaps(t *testing.T) {
	nine := mustInterval(t, at(9, 0), at(9, 30))
	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", nine, true},
		{"partial", mustInterval(t, at(9, 15), at(9, 45)), true},
		{"contained", mustInterval(t, at(9, 10), at(9, 20)), true},
		{"containing", mustInterval(t, at(8, 0), at(10, 0)), true},
		{"touching after", mustInterval(t, at(9, 30), at(10, 0)), false},
		{"touching before", mustInterval(t, at(8, 30), at(9, 0)), false},
		{"disjoint", mustInterval(t, at(11, 0), at(12, 0)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(nine, tt.other); got != tt.want {
				t.Errorf("Overlaps(a, b) = %v, want %v", got, tt.want)
			}
			if got := Overlaps(tt.other, nine); got != tt.want {
				t.Errorf("Overlaps(b, a) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlaps_SymmetricAndReflexive(t *testing.T) {
	var ivs []Interval
	for start := 0; start < 120; start += 15 {
		for length := 15; length <= 60; length += 15 {
			ivs = append(ivs, mustInterval(t, at(9, start), at(9, start+length)))
		}
	}
	for _, a := range ivs {
		if !Overlaps(a, a) {
			t.Fatalf("interval %v must overlap itself", a)
		}
		for _, b := range ivs {
			if Overlaps(a, b) != Overlaps(b, a) {
				t.Fatalf("asymmetric overlap for %v and %v", a, b)
			}
		}
	}
}

func TestInterval_JSON(t *testing.T) {
	iv := mustInterval(t, at(9, 0), at(9, 30))
	data, err := json.Marshal(iv)
	if err != nil {
		t.Fatal(err)
	}
	var back Interval
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Start().Equal(iv.Start()) || back.Duration() != 30*time.Minute {
		t.Errorf("unexpected interval %v", back)
	}

	err = json.Unmarshal([]byte(`{"start":"2025-03-10T10:00:00Z","end":"2025-03-10T09:00:00Z"}`), &back)
	if !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval decoding reversed interval, got %v", err)
	}
}
