package scheduler

import (
	"testing"
	"time"
)

func TestParseCronValid(t *testing.T) {
	for _, expr := range []string{
		"* * * * *",
		"*/5 * * * *",
		"0 0 * * *",
		"30 4 1,15 * *",
		"0 0 1 1 0",
		"0-30/5 9-17 * * 1-5",
		"5/15 * * * *",
		"0 12 * * 7",
		"@daily",
		"@Hourly",
	} {
		if _, err := ParseCron(expr); err != nil {
			t.Errorf("ParseCron(%q) returned error: %v", expr, err)
		}
	}
}

func TestParseCronInvalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * *",
		"60 * * * *",
		"* 25 * * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"abc * * * *",
		"5-1 * * * *",
		"@sometimes",
	} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) should have returned error", expr)
		}
	}
}

func TestMatchesRange(t *testing.T) {
	c, _ := ParseCron("0-30/5 9-17 * * 1-5")

	if monday := time.Date(2026, 2, 16, 10, 15, 0, 0, time.UTC); !c.Matches(monday) {
		t.Errorf("should match Monday 10:15, weekday=%d", monday.Weekday())
	}
	if saturday := time.Date(2026, 2, 14, 10, 15, 0, 0, time.UTC); c.Matches(saturday) {
		t.Errorf("should not match Saturday, weekday=%d", saturday.Weekday())
	}
	if late := time.Date(2026, 2, 16, 10, 35, 0, 0, time.UTC); c.Matches(late) {
		t.Error("minute 35 is outside 0-30")
	}
}

func TestMatchesStepFromValue(t *testing.T) {
	c, _ := ParseCron("5/15 * * * *")
	for _, m := range []int{5, 20, 35, 50} {
		if !c.Matches(time.Date(2026, 2, 16, 1, m, 0, 0, time.UTC)) {
			t.Errorf("should match minute %d", m)
		}
	}
	if c.Matches(time.Date(2026, 2, 16, 1, 0, 0, 0, time.UTC)) {
		t.Error("should not match minute 0")
	}
}

func TestSundayAsSeven(t *testing.T) {
	c, _ := ParseCron("0 12 * * 7")
	sunday := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	if !c.Matches(sunday) {
		t.Errorf("7 should mean Sunday, weekday=%d", sunday.Weekday())
	}
}

func TestDayFieldsAreOredWhenBothRestricted(t *testing.T) {
	// the 1st of the month or any Monday
	c, _ := ParseCron("0 9 1 * 1")
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)    // Sunday
	monday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)   // Monday
	tuesday := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) // Tuesday
	if !c.Matches(first) || !c.Matches(monday) {
		t.Error("either day field should qualify")
	}
	if c.Matches(tuesday) {
		t.Error("neither day field matches Tuesday the 10th")
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		expr string
		from time.Time
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 2, 15, 10, 30, 45, 0, time.UTC), time.Date(2026, 2, 15, 10, 31, 0, 0, time.UTC)},
		{"*/5 * * * *", time.Date(2026, 2, 15, 10, 12, 0, 0, time.UTC), time.Date(2026, 2, 15, 10, 15, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2026, 2, 15, 23, 59, 0, 0, time.UTC), time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)},
		// strictly after: a matching instant advances to the next match
		{"*/5 * * * *", time.Date(2026, 2, 15, 10, 15, 0, 0, time.UTC), time.Date(2026, 2, 15, 10, 20, 0, 0, time.UTC)},
		{"@monthly", time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		c, err := ParseCron(tc.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q): %v", tc.expr, err)
		}
		if got := c.Next(tc.from); !got.Equal(tc.want) {
			t.Errorf("%q Next(%v) = %v, want %v", tc.expr, tc.from, got, tc.want)
		}
	}
}
