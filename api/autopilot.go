package api

import "go.sia.tech/core/types"

type (
	// AutopilotStateResponse is the response type for the autopilot's /state
	// endpoint.
	AutopilotStateResponse struct {
		Creator     types.PublicKey `json:"creator"`
		Destination types.Address   `json:"destination"`
		Heartbeat   DurationMS      `json:"heartbeat"`
		Running     bool            `json:"running"`
		StartTime   TimeRFC3339     `json:"startTime"`
		LastRun     TimeRFC3339     `json:"lastRun"`

		// lifetime counters
		Swept     uint64      `json:"swept"`
		Expired   uint64      `json:"expired"`
		Retries   uint64      `json:"retries"`
		Abandoned []AccountID `json:"abandoned"`

		// durations of recent successful sweeps
		SweepDurationMedian DurationMS `json:"sweepDurationMedian"`
		SweepDurationP90    DurationMS `json:"sweepDurationP90"`

		BuildState
	}

	// AutopilotTriggerResponse is the response type for the autopilot's
	// /trigger endpoint.
	AutopilotTriggerResponse struct {
		Triggered bool `json:"triggered"`
	}
)
