package domain

import (
	"testing"
	"time"
)

func TestRecipientScheduledAt(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job := Job{ScheduledFor: start, DelaySeconds: 5}

	tests := []struct {
		index int
		want  time.Time
	}{
		{0, start},
		{1, start.Add(5 * time.Second)},
		{2, start.Add(10 * time.Second)},
		{10, start.Add(50 * time.Second)},
	}

	for _, tt := range tests {
		if got := job.RecipientScheduledAt(tt.index); !got.Equal(tt.want) {
			t.Errorf("RecipientScheduledAt(%d) = %v, want %v", tt.index, got, tt.want)
		}
	}
}
