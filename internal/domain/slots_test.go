package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func weekday(d int16) *int16 { return &d }

func recurringWindow(day int16, startMinute, endMinute int) Availability {
	return Availability{
		ID:          uuid.New(),
		StaffID:     uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		DayOfWeek:   weekday(day),
		StartMinute: startMinute,
		EndMinute:   endMinute,
	}
}

func specificWindow(date time.Time, startMinute, endMinute int) Availability {
	d := DateOf(date)
	return Availability{
		ID:           uuid.New(),
		StaffID:      uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		SpecificDate: &d,
		StartMinute:  startMinute,
		EndMinute:    endMinute,
	}
}

// 2026-11-02 is a Monday.
var monday = time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

func TestComputeSlots_FullDayHourly(t *testing.T) {
	windows := []Availability{recurringWindow(1, 9*60, 17*60)}

	slots := ComputeSlots(windows, monday, time.Hour, nil, time.Time{})
	if len(slots) != 8 {
		t.Fatalf("len(slots) = %d, want 8", len(slots))
	}
	for i, s := range slots {
		want := monday.Add(time.Duration(9+i) * time.Hour)
		if !s.StartTime.Equal(want) {
			t.Fatalf("slot[%d] start = %v, want %v", i, s.StartTime, want)
		}
		if !s.EndTime.Equal(want.Add(time.Hour)) {
			t.Fatalf("slot[%d] end = %v, want %v", i, s.EndTime, want.Add(time.Hour))
		}
	}
}

func TestComputeSlots_ExcludesScheduledOnly(t *testing.T) {
	windows := []Availability{recurringWindow(1, 9*60, 17*60)}
	appts := []Appointment{
		{ID: uuid.New(), StartTime: monday.Add(10 * time.Hour), EndTime: monday.Add(11 * time.Hour), Status: StatusScheduled},
		{ID: uuid.New(), StartTime: monday.Add(12 * time.Hour), EndTime: monday.Add(13 * time.Hour), Status: StatusCancelled},
		{ID: uuid.New(), StartTime: monday.Add(13 * time.Hour), EndTime: monday.Add(14 * time.Hour), Status: StatusRescheduled},
		{ID: uuid.New(), StartTime: monday.Add(14*time.Hour + 30*time.Minute), EndTime: monday.Add(15 * time.Hour), Status: StatusScheduled},
	}

	slots := ComputeSlots(windows, monday, time.Hour, appts, time.Time{})
	if len(slots) != 6 {
		t.Fatalf("len(slots) = %d, want 6", len(slots))
	}
	for _, s := range slots {
		for _, a := range appts {
			if a.Active() && Overlaps(s.StartTime, s.EndTime, a.StartTime, a.EndTime) {
				t.Fatalf("slot %v overlaps scheduled appointment %v", s.StartTime, a.StartTime)
			}
		}
	}
}

func TestComputeSlots_WindowShorterThanDurationAndRemainder(t *testing.T) {
	tests := []struct {
		name    string
		windows []Availability
		dur     time.Duration
		want    int
	}{
		{name: "window shorter than duration", windows: []Availability{recurringWindow(1, 9*60, 9*60+45)}, dur: time.Hour, want: 0},
		{name: "trailing remainder dropped", windows: []Availability{recurringWindow(1, 9*60, 11*60+30)}, dur: time.Hour, want: 2},
		{name: "exact fit", windows: []Availability{recurringWindow(1, 9*60, 10*60)}, dur: time.Hour, want: 1},
		{name: "no windows", windows: nil, dur: time.Hour, want: 0},
		{name: "other weekday", windows: []Availability{recurringWindow(2, 9*60, 17*60)}, dur: time.Hour, want: 0},
		{name: "zero duration", windows: []Availability{recurringWindow(1, 9*60, 17*60)}, dur: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := ComputeSlots(tt.windows, monday, tt.dur, nil, time.Time{})
			if len(slots) != tt.want {
				t.Fatalf("len(slots) = %d, want %d", len(slots), tt.want)
			}
		})
	}
}

func TestComputeSlots_SortedAcrossWindows(t *testing.T) {
	windows := []Availability{
		recurringWindow(1, 14*60, 16*60),
		recurringWindow(1, 8*60, 10*60),
	}

	slots := ComputeSlots(windows, monday, 30*time.Minute, nil, time.Time{})
	if len(slots) != 8 {
		t.Fatalf("len(slots) = %d, want 8", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].StartTime.Before(slots[i].StartTime) {
			t.Fatalf("slots not sorted: %v then %v", slots[i-1].StartTime, slots[i].StartTime)
		}
	}
	if !slots[0].StartTime.Equal(monday.Add(8 * time.Hour)) {
		t.Fatalf("first slot = %v, want 08:00", slots[0].StartTime)
	}
}

func TestComputeSlots_SkipsBeforeNotBefore(t *testing.T) {
	windows := []Availability{recurringWindow(1, 9*60, 12*60)}

	slots := ComputeSlots(windows, monday, time.Hour, nil, monday.Add(10*time.Hour+time.Minute))
	if len(slots) != 1 {
		t.Fatalf("len(slots) = %d, want 1", len(slots))
	}
	if !slots[0].StartTime.Equal(monday.Add(11 * time.Hour)) {
		t.Fatalf("slot = %v, want 11:00", slots[0].StartTime)
	}
}

func TestResolveWindows_SpecificDateReplacesRecurring(t *testing.T) {
	recurring := recurringWindow(1, 9*60, 17*60)
	override := specificWindow(monday, 13*60, 15*60)
	otherDate := specificWindow(monday.AddDate(0, 0, 7), 6*60, 7*60)

	got := ResolveWindows([]Availability{recurring, override, otherDate}, monday)
	if len(got) != 1 || got[0].ID != override.ID {
		t.Fatalf("resolved = %+v, want only the specific-date window", got)
	}

	got = ResolveWindows([]Availability{recurring, override}, monday.AddDate(0, 0, 14))
	if len(got) != 1 || got[0].ID != recurring.ID {
		t.Fatalf("resolved = %+v, want the recurring window", got)
	}

	slots := ComputeSlots([]Availability{recurring, override}, monday, time.Hour, nil, time.Time{})
	if len(slots) != 2 {
		t.Fatalf("len(slots) = %d, want 2", len(slots))
	}
	if !slots[0].StartTime.Equal(monday.Add(13 * time.Hour)) {
		t.Fatalf("first slot = %v, want 13:00", slots[0].StartTime)
	}
}

func TestWithinWindows(t *testing.T) {
	windows := []Availability{
		recurringWindow(1, 9*60, 17*60),
		recurringWindow(2, 0, MinutesPerDay),
	}
	tuesday := monday.AddDate(0, 0, 1)

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{name: "inside", start: monday.Add(10 * time.Hour), end: monday.Add(11 * time.Hour), want: true},
		{name: "touches both edges", start: monday.Add(9 * time.Hour), end: monday.Add(17 * time.Hour), want: true},
		{name: "starts early", start: monday.Add(8*time.Hour + 30*time.Minute), end: monday.Add(9*time.Hour + 30*time.Minute), want: false},
		{name: "ends late", start: monday.Add(16*time.Hour + 30*time.Minute), end: monday.Add(17*time.Hour + 30*time.Minute), want: false},
		{name: "ends at midnight", start: tuesday.Add(23 * time.Hour), end: tuesday.AddDate(0, 0, 1), want: true},
		{name: "crosses midnight", start: tuesday.Add(23 * time.Hour), end: tuesday.AddDate(0, 0, 1).Add(time.Hour), want: false},
		{name: "no window that day", start: monday.AddDate(0, 0, 2).Add(10 * time.Hour), end: monday.AddDate(0, 0, 2).Add(11 * time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinWindows(windows, tt.start, tt.end); got != tt.want {
				t.Fatalf("WithinWindows = %v, want %v", got, tt.want)
			}
		})
	}
}
