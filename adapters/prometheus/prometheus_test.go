package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	require.NotNil(t, m)

	// Test store operations
	timer := m.StoreAppendDuration("account")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.StoreReadDuration("account")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsAppended("account", 5)
	m.VersionConflict("account")

	// Test repository operations
	timer = m.RepoLoadDuration("account")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.RepoSaveDuration("account")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.CacheHit("account")
	m.CacheMiss("account")

	// Test snapshots
	timer = m.SnapshotSaveDuration("account")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.SnapshotSaveFailed("account")

	// Test projections
	timer = m.ProjectionEventDuration("balances")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.ProjectionEventProcessed("balances", true)
	m.ProjectionEventProcessed("balances", false)
	m.ProjectionLag("balances", 100)
	m.ProjectionDeadLettered("balances")

	timer = m.ProjectionRebuildDuration("balances")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	// Verify metrics were registered
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["evr_es_store_append_duration_seconds"])
	assert.True(t, names["evr_es_version_conflicts_total"])
	assert.True(t, names["evr_es_cache_hits_total"])
	assert.True(t, names["evr_es_projection_lag"])
	assert.True(t, names["evr_es_projection_dead_letters_total"])
}

func TestNewSagaMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSagaMetrics(reg)

	require.NotNil(t, m)

	m.SagaStarted("booking")
	m.SagaCompleted("booking")
	m.SagaCompensated("booking")
	m.SagaFailed("booking")

	timer := m.StepDuration("booking", "reserve-flight")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["evr_saga_started_total"])
	assert.True(t, names["evr_saga_step_duration_seconds"])
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m)
	require.NotNil(t, m.ES)
	require.NotNil(t, m.Saga)

	m.ES.CacheHit("account")
	m.Saga.SagaStarted("booking")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
