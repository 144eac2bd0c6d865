package api

import (
	"math/big"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/internal/prometheus"
)

type (
	// BuildState contains static information about the build.
	BuildState struct {
		Version   string      `json:"version"`
		Commit    string      `json:"commit"`
		OS        string      `json:"os"`
		BuildTime TimeRFC3339 `json:"buildTime"`
	}

	// BusStateResponse is the response type for the bus' /state endpoint.
	BusStateResponse struct {
		StartTime TimeRFC3339 `json:"startTime"`
		Height    uint64      `json:"height"`
		BuildState
	}

	// ConsensusHeightRequest is the request type for the POST
	// /consensus/height endpoint.
	ConsensusHeightRequest struct {
		Height uint64 `json:"height"`
	}

	// ConsensusHeightResponse is the response type for the GET
	// /consensus/height endpoint.
	ConsensusHeightResponse struct {
		Height uint64 `json:"height"`
	}

	// AccountsStatsResponse is the response type for the /accounts/stats
	// endpoint.
	AccountsStatsResponse struct {
		Height   uint64                `json:"height"`
		ByStatus map[AccountStatus]int `json:"byStatus"`
	}

	// BalanceResponse is the response type for the /balance/:owner/:asset
	// endpoint.
	BalanceResponse struct {
		Owner  types.Address `json:"owner"`
		Asset  types.Address `json:"asset"`
		Amount *big.Int      `json:"amount"`
	}

	// BalanceCreditRequest is the request type for the /balance/:owner/credit
	// endpoint.
	BalanceCreditRequest struct {
		Asset  types.Address `json:"asset"`
		Amount *big.Int      `json:"amount"`
	}

	// AlertsDismissRequest is the request type for the /alerts/dismiss
	// endpoint.
	AlertsDismissRequest struct {
		IDs []types.Hash256 `json:"ids"`
	}
)

// PrometheusMetric implements prometheus.Marshaller.
func (s BusStateResponse) PrometheusMetric() []prometheus.Metric {
	return []prometheus.Metric{
		{
			Name:   "ephemerald_state",
			Labels: map[string]any{"version": s.Version, "commit": s.Commit, "os": s.OS},
			Value:  1,
		},
		{
			Name:  "ephemerald_consensus_height",
			Value: float64(s.Height),
		},
	}
}

// PrometheusMetric implements prometheus.Marshaller.
func (s AccountsStatsResponse) PrometheusMetric() (metrics []prometheus.Metric) {
	for _, status := range []AccountStatus{StatusActive, StatusPaymentReceived, StatusSwept, StatusExpired} {
		metrics = append(metrics, prometheus.Metric{
			Name:   "ephemerald_accounts",
			Labels: map[string]any{"status": status},
			Value:  float64(s.ByStatus[status]),
		})
	}
	return
}
