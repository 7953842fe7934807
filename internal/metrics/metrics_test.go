package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAreConcurrencySafe(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(BidsPlaced)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(50), m.GetCounters()[BidsPlaced])
}

func TestTimersAndErrorRates(t *testing.T) {
	m := NewMetrics()
	m.RecordTimer(SettlementTimer, 30)
	m.RecordTimer(SettlementTimer, 10)
	m.RecordTimer(SettlementTimer, 20)

	timer := m.GetTimers()[SettlementTimer]
	require.Equal(t, int64(3), timer.Count)
	require.Equal(t, int64(10), timer.MinTimeMs)
	require.Equal(t, int64(30), timer.MaxTimeMs)
	require.InDelta(t, 20.0, timer.AverageTimeMs, 0.001)

	m.RecordOutcome(SettlementErrorRate, nil)
	m.RecordOutcome(SettlementErrorRate, errors.New("declined"))
	rate := m.GetErrorRates()[SettlementErrorRate]
	require.Equal(t, int64(2), rate.Total)
	require.InDelta(t, 50.0, rate.ErrorRate, 0.001)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementCounter(BidsPlaced)
	m.SetGauge(OutboxPendingGauge, 3)
	m.RecordOutcome(DispatchErrorRate, nil)
	m.SetHealth(HealthDatabase, true)
}
