package scheduler

import (
	"testing"
	"time"
)

func TestNextMonday(t *testing.T) {
	monday := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"midweek rolls to next monday", monday.Add(72 * time.Hour), monday.AddDate(0, 0, 7)},
		{"monday midnight rolls a full week", monday, monday.AddDate(0, 0, 7)},
		{"sunday night rolls to tomorrow", monday.AddDate(0, 0, 6).Add(23 * time.Hour), monday.AddDate(0, 0, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextMonday(tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("nextMonday(%v) = %v, want %v", tt.now, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("nextMonday must be strictly after now")
			}
		})
	}
}
