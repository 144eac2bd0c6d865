package alerts

import "go.sia.tech/ephemerald/internal/prometheus"

// PrometheusMetric returns Prometheus samples for the active alerts.
func (r AlertsResponse) PrometheusMetric() (metrics []prometheus.Metric) {
	for _, a := range r.Alerts {
		metrics = append(metrics, prometheus.Metric{
			Name: "ephemerald_alert",
			Labels: map[string]any{
				"id":       a.ID,
				"severity": a.Severity.String(),
				"message":  a.Message,
			},
			Value: float64(a.Timestamp.Unix()),
		})
	}
	return
}
