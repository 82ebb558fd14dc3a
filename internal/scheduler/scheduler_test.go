package scheduler

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aristath/stockwatch/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddJob(t *testing.T) {
	s := New(nil, zerolog.Nop())

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"five field", "30 11 * * 1-5", false},
		{"descriptor", "@hourly", false},
		{"every", "@every 30s", false},
		{"invalid", "not a schedule", true},
		{"six field rejected", "0 30 11 * * 1-5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddJob(tt.schedule, FuncJob{JobName: tt.name, Fn: func() error { return nil }})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_ExecuteRecoversPanics(t *testing.T) {
	s := New(nil, zerolog.Nop())

	assert.NotPanics(t, func() {
		s.execute(FuncJob{JobName: "panicky", Fn: func() error { panic("boom") }})
	})
	assert.NotPanics(t, func() {
		s.execute(FuncJob{JobName: "failing", Fn: func() error { return errors.New("nope") }})
	})
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil, zerolog.Nop())
	called := false

	err := s.RunNow(FuncJob{JobName: "now", Fn: func() error { called = true; return nil }})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWALCheckpointJob(t *testing.T) {
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "monitor.db"), Name: "monitor"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	job := NewWALCheckpointJob(zerolog.Nop(), db, nil)
	assert.Equal(t, "wal_checkpoint", job.Name())
	assert.NoError(t, job.Run())
}
