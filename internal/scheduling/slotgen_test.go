package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// 2026-01-05 is a Monday.
const (
	monday  = "2026-01-05"
	tuesday = "2026-01-06"
)

func mondayTemplate(interval int, start, end string) AvailabilityTemplate {
	return AvailabilityTemplate{
		ProfessionalID:  uuid.New(),
		IntervalMinutes: interval,
		Rules: []AvailabilityRule{
			{Weekday: time.Monday, StartTime: start, EndTime: end},
		},
	}
}

func TestGenerateSlotsSingleMonday(t *testing.T) {
	tmpl := mondayTemplate(60, "09:00", "11:00")

	slots, err := GenerateSlots(tmpl, monday, monday, time.UTC)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}

	want := []struct{ start, end string }{
		{"09:00", "10:00"},
		{"10:00", "11:00"},
	}
	for i, w := range want {
		if slots[i].StartTime != w.start || slots[i].EndTime != w.end {
			t.Errorf("slot %d = %s-%s, want %s-%s", i, slots[i].StartTime, slots[i].EndTime, w.start, w.end)
		}
		if slots[i].Date != monday {
			t.Errorf("slot %d date = %s, want %s", i, slots[i].Date, monday)
		}
		if slots[i].Status != SlotFree {
			t.Errorf("slot %d status = %s, want free", i, slots[i].Status)
		}
		if slots[i].ProfessionalID != tmpl.ProfessionalID {
			t.Errorf("slot %d professional mismatch", i)
		}
	}
}

func TestGenerateSlotsDropsTrailingRemainder(t *testing.T) {
	tmpl := mondayTemplate(60, "09:00", "10:30")

	slots, err := GenerateSlots(tmpl, monday, monday, time.UTC)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if slots[0].StartTime != "09:00" || slots[0].EndTime != "10:00" {
		t.Errorf("slot = %s-%s, want 09:00-10:00", slots[0].StartTime, slots[0].EndTime)
	}
}

func TestGenerateSlotsNoMatchingDay(t *testing.T) {
	tmpl := mondayTemplate(60, "09:00", "11:00")

	slots, err := GenerateSlots(tmpl, tuesday, tuesday, time.UTC)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	if len(slots) != 0 {
		t.Fatalf("expected 0 slots for a day with no rule, got %d", len(slots))
	}
}

func TestGenerateSlotsOverlappingRulesNoDuplicates(t *testing.T) {
	tmpl := AvailabilityTemplate{
		ProfessionalID:  uuid.New(),
		IntervalMinutes: 60,
		Rules: []AvailabilityRule{
			{Weekday: time.Monday, StartTime: "09:00", EndTime: "11:00"},
			{Weekday: time.Monday, StartTime: "10:00", EndTime: "12:00"},
		},
	}

	slots, err := GenerateSlots(tmpl, monday, monday, time.UTC)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	seen := make(map[string]bool)
	for _, s := range slots {
		key := s.Date + " " + s.StartTime
		if seen[key] {
			t.Errorf("duplicate slot start %s", key)
		}
		seen[key] = true
	}

	if len(slots) != 3 {
		t.Fatalf("expected 3 unique slots (09, 10, 11), got %d", len(slots))
	}
}

func TestGenerateSlotsZeroPadding(t *testing.T) {
	tmpl := mondayTemplate(30, "08:00", "09:00")

	slots, err := GenerateSlots(tmpl, monday, monday, time.UTC)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if slots[0].StartTime != "08:00" || slots[0].EndTime != "08:30" {
		t.Errorf("slot 0 = %s-%s, want zero-padded 08:00-08:30", slots[0].StartTime, slots[0].EndTime)
	}
}

func TestGenerateSlotsMultiWeekRange(t *testing.T) {
	tmpl := mondayTemplate(60, "09:00", "11:00")

	// Two weeks covering two Mondays.
	slots, err := GenerateSlots(tmpl, "2026-01-05", "2026-01-18", time.UTC)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}

	if len(slots) != 4 {
		t.Fatalf("expected 4 slots across two Mondays, got %d", len(slots))
	}
	if slots[0].Date != "2026-01-05" || slots[2].Date != "2026-01-12" {
		t.Errorf("unexpected dates: %s, %s", slots[0].Date, slots[2].Date)
	}
}

func TestGenerateSlotsRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		tmpl     AvailabilityTemplate
		from, to string
	}{
		{"zero interval", mondayTemplate(0, "09:00", "11:00"), monday, monday},
		{"empty window", mondayTemplate(60, "11:00", "09:00"), monday, monday},
		{"range reversed", mondayTemplate(60, "09:00", "11:00"), tuesday, monday},
		{"bad date", mondayTemplate(60, "09:00", "11:00"), "05/01/2026", monday},
		{"bad time", mondayTemplate(60, "9am", "11:00"), monday, monday},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := GenerateSlots(tc.tmpl, tc.from, tc.to, time.UTC); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestResolveTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	ts, err := ResolveTimestamp("2026-01-05", "09:00", loc)
	if err != nil {
		t.Fatalf("ResolveTimestamp: %v", err)
	}

	want := time.Date(2026, 1, 5, 9, 0, 0, 0, loc)
	if !ts.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ts, want)
	}
}
