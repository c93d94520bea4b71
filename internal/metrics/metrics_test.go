package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordScan(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordScan("pages", 0)
	m.RecordScan("pages", 3)
	m.RecordScan("posts", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsScannedTotal.WithLabelValues("pages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsMatchedTotal.WithLabelValues("pages")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OccurrencesFoundTotal.WithLabelValues("pages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OccurrencesFoundTotal.WithLabelValues("posts")))
}

func TestRecordReplay(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordReplay("pages", "patched", 2)
	m.RecordReplay("pages", "unchanged", 0)
	m.RecordReplay("pages", "patched", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReplayOutcomesTotal.WithLabelValues("pages", "patched")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReplacementsAppliedTotal))
}

func TestRecordGrpcAndStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGrpcRequest("/linksweep.v1.LinkSweep/Scan", "OK", 10*time.Millisecond)
	m.RecordStoreOperation("get", "ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("/linksweep.v1.LinkSweep/Scan", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("get", "ok")))

	count, err := testutil.GatherAndCount(reg, "linksweep_store_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestRunUptimeStops(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		m.RunUptime(time.Millisecond, done)
		close(finished)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ServerUptimeSeconds) > 0
	}, time.Second, time.Millisecond)

	close(done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("uptime loop did not stop")
	}
}
