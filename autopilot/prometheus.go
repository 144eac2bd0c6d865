package autopilot

import (
	"time"

	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/internal/prometheus"
)

type AutopilotStateResp api.AutopilotStateResponse

func (asr AutopilotStateResp) PrometheusMetric() (metrics []prometheus.Metric) {
	labels := map[string]any{
		"creator":   asr.Creator,
		"version":   asr.Version,
		"commit":    asr.Commit,
		"os":        asr.OS,
		"buildTime": asr.BuildTime.String(),
	}
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_running",
		Labels: labels,
		Value: func() float64 {
			if asr.Running {
				return 1
			}
			return 0
		}(),
	})
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_swept",
		Labels: labels,
		Value:  float64(asr.Swept),
	})
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_expired",
		Labels: labels,
		Value:  float64(asr.Expired),
	})
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_retries",
		Labels: labels,
		Value:  float64(asr.Retries),
	})
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_abandoned",
		Labels: labels,
		Value:  float64(len(asr.Abandoned)),
	})
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_sweep_duration_median_ms",
		Labels: labels,
		Value:  float64(time.Duration(asr.SweepDurationMedian).Milliseconds()),
	})
	metrics = append(metrics, prometheus.Metric{
		Name:   "ephemerald_autopilot_state_sweep_duration_p90_ms",
		Labels: labels,
		Value:  float64(time.Duration(asr.SweepDurationP90).Milliseconds()),
	})
	return
}
