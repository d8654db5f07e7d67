package cache

import (
	"errors"
	"testing"
	"time"
)

func TestLeastFrequentlyUsed_SelectVictim(t *testing.T) {
	tests := []struct {
		name       string
		candidates []ImageStats
		want       string
		wantOK     bool
	}{
		{
			name:   "empty set means nothing to evict",
			wantOK: false,
		},
		{
			name: "fewest recent starts wins",
			candidates: []ImageStats{
				{Image: "a", RecentStarts: 2},
				{Image: "b", RecentStarts: 1},
			},
			want:   "b",
			wantOK: true,
		},
		{
			name: "tie broken by admission order",
			candidates: []ImageStats{
				{Image: "a", RecentStarts: 1},
				{Image: "b", RecentStarts: 1},
				{Image: "c", RecentStarts: 3},
			},
			want:   "a",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LeastFrequentlyUsed{}.SelectVictim(tt.candidates, time.Now())
			if ok != tt.wantOK {
				t.Fatalf("SelectVictim ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("SelectVictim = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLeastTotalTime_SelectVictim(t *testing.T) {
	tests := []struct {
		name       string
		candidates []ImageStats
		want       string
		wantOK     bool
	}{
		{
			name:   "empty set means nothing to evict",
			wantOK: false,
		},
		{
			name: "least busy time wins",
			candidates: []ImageStats{
				{Image: "a", RecentBusy: 18 * time.Second},
				{Image: "b", RecentBusy: 15 * time.Second},
			},
			want:   "b",
			wantOK: true,
		},
		{
			name: "tie broken by admission order",
			candidates: []ImageStats{
				{Image: "x", RecentBusy: 10 * time.Second},
				{Image: "y", RecentBusy: 10 * time.Second},
			},
			want:   "x",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LeastTotalTime{}.SelectVictim(tt.candidates, time.Now())
			if ok != tt.wantOK {
				t.Fatalf("SelectVictim ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("SelectVictim = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"least frequently used", PolicyLeastFrequentlyUsed, PolicyLeastFrequentlyUsed, false},
		{"least total time", PolicyLeastTotalTime, PolicyLeastTotalTime, false},
		{"unknown name", "most-recently-used", "", true},
		{"empty name", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := ParsePolicy(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownPolicy) {
					t.Fatalf("ParsePolicy(%q) error = %v, want ErrUnknownPolicy", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePolicy(%q) error = %v", tt.input, err)
			}
			if policy.Name() != tt.want {
				t.Errorf("ParsePolicy(%q).Name() = %q, want %q", tt.input, policy.Name(), tt.want)
			}
		})
	}
}
