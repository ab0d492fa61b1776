package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/log"
	"github.com/sandeepkiranp/pd-linux/metrics"
)

func gather(t *testing.T, m *metrics.Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestCountersIncrement(t *testing.T) {
	m := metrics.New(log.DefaultLogger())

	m.HiddenWrite()
	m.HiddenWrite()
	m.NoCarriersFailure()

	f := gather(t, m, "dm_hidden_writes_total")
	require.NotNil(t, f)
	require.Equal(t, float64(2), f.GetMetric()[0].GetCounter().GetValue())

	f = gather(t, m, "dm_no_carriers_failures_total")
	require.NotNil(t, f)
	require.Equal(t, float64(1), f.GetMetric()[0].GetCounter().GetValue())
}

func TestGaugesAndHistogramsRecord(t *testing.T) {
	m := metrics.New(log.DefaultLogger())

	m.SetFreeCarrierSectors(42)
	m.SetHiddenMapEntries(7)

	f := gather(t, m, "dm_free_carrier_sectors")
	require.NotNil(t, f)
	require.Equal(t, float64(42), f.GetMetric()[0].GetGauge().GetValue())

	f = gather(t, m, "dm_hidden_map_entries")
	require.NotNil(t, f)
	require.Equal(t, float64(7), f.GetMetric()[0].GetGauge().GetValue())

	m.ObserveStage("splice", 0)
	f = gather(t, m, "dm_pipeline_stage_duration_seconds")
	require.NotNil(t, f)
	require.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
}
