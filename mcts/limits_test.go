package mcts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimits(t *testing.T) {
	tests := []struct {
		in   string
		want Limits
	}{
		{"", Limits{}},
		{"infinite", Limits{}},
		{"nodes 800", Limits{Nodes: 800}},
		{"movetime 1000", Limits{MoveTime: time.Second}},
		{"nodes 800 movetime 250", Limits{Nodes: 800, MoveTime: 250 * time.Millisecond}},
		{
			"p1time 60000 p2time 60000 p1inc 1000 p2inc 1000",
			Limits{
				HasClock: true,
				OurTime:  time.Minute, TheirTime: time.Minute,
				OurInc: time.Second, TheirInc: time.Second,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLimits(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseLimitsErrors(t *testing.T) {
	for _, in := range []string{
		"nodes",
		"nodes abc",
		"movetime -5",
		"p1time 1000",
		"p1time 1000 p2time 1000",
		"depth 12",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseLimits(in)
			assert.Error(t, err)
		})
	}
}

func TestTimeBudget(t *testing.T) {
	assert.Zero(t, Limits{Nodes: 100}.timeBudget())
	assert.Equal(t, time.Second, Limits{MoveTime: time.Second}.timeBudget())

	// Clock allocation: time/20 plus three quarters of the increment.
	clock := Limits{HasClock: true, OurTime: 60 * time.Second, OurInc: 2 * time.Second}
	assert.Equal(t, 3*time.Second+1500*time.Millisecond, clock.timeBudget())

	// Explicit movetime overrides the clock heuristic.
	clock.MoveTime = 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, clock.timeBudget())
}
