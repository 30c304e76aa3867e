package scheduling

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/medisecure/clinic/scheduling"

type metrics struct {
	booked    metric.Int64Counter
	conflicts metric.Int64Counter
	missed    metric.Int64Counter
	changes   metric.Int64Counter
}

// newMetrics binds to the global meter provider, which is a no-op until
// telemetry.Init installs an exporter.
func newMetrics() *metrics {
	m := otel.Meter(meterName)
	booked, _ := m.Int64Counter("clinic.appointments.booked",
		metric.WithDescription("Appointments successfully booked"))
	conflicts, _ := m.Int64Counter("clinic.appointments.conflicts",
		metric.WithDescription("Bookings or moves rejected because the doctor was busy"))
	missed, _ := m.Int64Counter("clinic.appointments.missed",
		metric.WithDescription("Appointments marked missed by the sweeper"))
	changes, _ := m.Int64Counter("clinic.appointments.status_changes",
		metric.WithDescription("Lifecycle transitions by target status"))
	return &metrics{booked: booked, conflicts: conflicts, missed: missed, changes: changes}
}

func (m *metrics) statusChanged(ctx context.Context, to Status) {
	m.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}
