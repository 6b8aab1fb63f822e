package bus

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstrumentOTelReportsBusMetrics(t *testing.T) {
	b := New(nil)

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("coral-test")

	if err := InstrumentOTel(b, meter); err != nil {
		t.Fatalf("InstrumentOTel failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	found := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, want := range []string{
		"coral_bus_events_total",
		"coral_bus_results_total",
		"coral_bus_errors_total",
		"coral_bus_result_queue_size",
		"coral_bus_result_queue_max_size",
		"coral_bus_avg_event_process_micros",
		"coral_bus_avg_result_process_micros",
	} {
		if !found[want] {
			t.Errorf("expected instrument %q to be reported", want)
		}
	}
}
