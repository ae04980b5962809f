package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddCalendarMonthClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"jan 31 clamps to feb 28",
			time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			"jan 31 clamps to feb 29 in leap years",
			time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			"mar 31 clamps to apr 30",
			time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			"mid month advances plainly",
			time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"december rolls into january",
			time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			"time of day is preserved",
			time.Date(2026, 1, 31, 9, 30, 15, 0, time.UTC),
			time.Date(2026, 2, 28, 9, 30, 15, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, addCalendarMonth(tc.in))
		})
	}
}
