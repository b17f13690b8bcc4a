package metrics

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stationpacking/cache"
	"stationpacking/constraint"
	"stationpacking/packing"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.CacheLookup("sat", true)
	p.CacheLookup("sat", false)
	p.CacheLookup("sat", false)
	p.ComponentSolved(3, packing.SAT, 2*time.Millisecond)
	p.ComponentSolved(5, packing.Timeout, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.lookups.WithLabelValues("sat", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.lookups.WithLabelValues("sat", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.components.WithLabelValues("TIMEOUT")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.componentSize))
}

func TestRegisterCacheSize(t *testing.T) {
	m, err := constraint.New(nil)
	require.NoError(t, err)
	u := cache.NewUniverse([]packing.Station{1, 2})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := cache.New(m, u, cache.RandomPermutations(2, 1, 1), nil, nil, cache.WithLogger(logger))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	RegisterCacheSize(reg, c)
	_, err = c.AddSAT(t.Context(), packing.Witness{1: 10})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"packing_cache_sat_entries":   1,
		"packing_cache_unsat_entries": 0,
	}, values)
}
