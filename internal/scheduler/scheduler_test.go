package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    string
		wantErr bool
	}{
		{name: "six field passthrough", expr: "0 */1 * * * *", want: "0 */1 * * * *"},
		{name: "seven field strips year", expr: "0 0 2 * * * 2030", want: "0 0 2 * * *"},
		{name: "seven field rejects bad year", expr: "0 0 2 * * * abcd", wantErr: true},
		{name: "descriptor passthrough", expr: "@every 1m", want: "@every 1m"},
		{name: "empty rejected", expr: "", wantErr: true},
		{name: "wrong field count rejected", expr: "0 0 *", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCronExpression(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduler_AddJob_RejectsDuplicateName(t *testing.T) {
	s := New(nil)
	job := Job{Name: "sweep", Schedule: "@every 1h", Run: func(context.Context) {}}
	require.NoError(t, s.AddJob(job))
	err := s.AddJob(job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestScheduler_AddJob_RejectsBadSchedule(t *testing.T) {
	s := New(nil)
	err := s.AddJob(Job{Name: "bad", Schedule: "not a cron", Run: func(context.Context) {}})
	require.Error(t, err)
}

func TestScheduler_StartStop_RunsNothingBeforeStart(t *testing.T) {
	s := New(nil)
	var ran atomic.Bool
	require.NoError(t, s.AddJob(Job{
		Name:     "noop",
		Schedule: "@every 1h",
		Run:      func(context.Context) { ran.Store(true) },
	}))
	s.Stop()
	assert.False(t, ran.Load())
}
