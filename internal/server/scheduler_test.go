package server

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoassets/internal/models"
)

type fakeMaintenance struct {
	batches  []bool
	cleanups int
	err      error
}

func (f *fakeMaintenance) GenerateAll(force bool) (*models.OptimizationReport, error) {
	f.batches = append(f.batches, force)
	if f.err != nil {
		return nil, f.err
	}
	return &models.OptimizationReport{Successful: 1}, nil
}

func (f *fakeMaintenance) CleanupOrphans() (int, error) {
	f.cleanups++
	return 2, f.err
}

func TestNewSchedulerRegistersConfiguredJobs(t *testing.T) {
	cfg := models.DefaultConfig()

	s, err := NewScheduler(&cfg, &fakeMaintenance{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Jobs())

	cfg.CleanupSchedule = "@daily"
	cfg.BatchSchedule = "0 3 * * *"
	s, err = NewScheduler(&cfg, &fakeMaintenance{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Jobs())

	s.Start()
	<-s.Stop().Done()
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.BatchSchedule = "every tuesday"

	_, err := NewScheduler(&cfg, &fakeMaintenance{}, zerolog.Nop())
	assert.ErrorContains(t, err, "batch_schedule")
}

func TestSchedulerJobs(t *testing.T) {
	cfg := models.DefaultConfig()
	m := &fakeMaintenance{}
	s, err := NewScheduler(&cfg, m, zerolog.Nop())
	require.NoError(t, err)

	s.batch(m)
	s.cleanup(m)
	assert.Equal(t, []bool{false}, m.batches)
	assert.Equal(t, 1, m.cleanups)

	m.err = errors.New("disk gone")
	s.batch(m)
	s.cleanup(m)
	assert.Len(t, m.batches, 2)
	assert.Equal(t, 2, m.cleanups)
}
