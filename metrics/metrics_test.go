package metrics

import (
	"io/ioutil"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/linkage"
	"github.com/phil-mansfield/linkage/material"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Step(linkage.StepEvent{
		Step: 1, TimeYears: 250, RequestedSeconds: 100, ActualSeconds: 50,
		Materials: material.Stats{ToSediment: 3, ToAir: 1, Outside: 2},
		Elapsed:   20 * time.Millisecond,
	})
	m.Step(linkage.StepEvent{
		Step: 2, TimeYears: 500, RequestedSeconds: 100, ActualSeconds: 100,
		Materials: material.Stats{ToSediment: 2},
	})
	require.NoError(t, m.Checkpoint(linkage.CheckpointEvent{Index: 1, TimeYears: 500}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkpoints))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.TimeYears))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Outside))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Transitions.WithLabelValues("to_sediment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("to_air")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StepFraction))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.Step(linkage.StepEvent{TimeYears: 42})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "linkage_time_years 42")
	assert.Contains(t, string(body), "linkage_steps_total 1")
}
