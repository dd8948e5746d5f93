package brain

import (
	"testing"
	"time"
)

func TestValidateCadence(t *testing.T) {
	tests := []struct {
		name    string
		cadence Cadence
		wantErr bool
	}{
		{"interval minutes", Cadence{Kind: CadenceInterval, Every: "30m"}, false},
		{"interval hours", Cadence{Kind: CadenceInterval, Every: "2h"}, false},
		{"interval days", Cadence{Kind: CadenceInterval, Every: "1d"}, false},
		{"interval uppercase rejected", Cadence{Kind: CadenceInterval, Every: "2H"}, true},
		{"interval whitespace rejected", Cadence{Kind: CadenceInterval, Every: " 2h"}, true},
		{"interval seconds rejected", Cadence{Kind: CadenceInterval, Every: "30s"}, true},
		{"interval empty", Cadence{Kind: CadenceInterval}, true},
		{"daily valid", Cadence{Kind: CadenceDaily, At: "09:30"}, false},
		{"daily midnight", Cadence{Kind: CadenceDaily, At: "00:00"}, false},
		{"daily last minute", Cadence{Kind: CadenceDaily, At: "23:59"}, false},
		{"daily hour out of range", Cadence{Kind: CadenceDaily, At: "24:00"}, true},
		{"daily minute out of range", Cadence{Kind: CadenceDaily, At: "12:60"}, true},
		{"daily missing zero pad", Cadence{Kind: CadenceDaily, At: "9:30"}, true},
		{"unknown kind", Cadence{Kind: "weekly", At: "09:30"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCadence(&tt.cadence)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCadence(%+v) = %v, wantErr %v", tt.cadence, err, tt.wantErr)
			}
		})
	}
}

func TestNextDueInterval(t *testing.T) {
	runAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		every string
		want  time.Time
	}{
		{"30m", runAt.Add(30 * time.Minute)},
		{"2h", runAt.Add(2 * time.Hour)},
		{"1d", runAt.AddDate(0, 0, 1)},
		{"10d", runAt.AddDate(0, 0, 10)},
	}
	for _, tt := range tests {
		got, err := NextDue(&Cadence{Kind: CadenceInterval, Every: tt.every}, runAt)
		if err != nil {
			t.Fatalf("NextDue(%s): %v", tt.every, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextDue(%s) = %v, want %v", tt.every, got, tt.want)
		}
	}
}

func TestNextDueDaily(t *testing.T) {
	c := &Cadence{Kind: CadenceDaily, At: "09:00"}

	// Before today's time: due today.
	runAt := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	got, err := NextDue(c, runAt)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("before: NextDue = %v, want %v", got, want)
	}

	// After today's time: due tomorrow.
	runAt = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	got, _ = NextDue(c, runAt)
	want = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("after: NextDue = %v, want %v", got, want)
	}

	// Exactly at the time: next occurrence is tomorrow, not now.
	runAt = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	got, _ = NextDue(c, runAt)
	if !got.Equal(want) {
		t.Errorf("exact: NextDue = %v, want %v", got, want)
	}
}

func TestNextDueRejectsMalformed(t *testing.T) {
	if _, err := NextDue(&Cadence{Kind: CadenceInterval, Every: "soon"}, time.Now()); err == nil {
		t.Error("malformed cadence accepted")
	}
}
