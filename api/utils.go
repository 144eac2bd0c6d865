package api

import (
	"fmt"
	"net/http"

	"go.sia.tech/ephemerald/internal/prometheus"
	"go.sia.tech/jape"
)

// WriteResponse writes resp as JSON, or in the Prometheus text format if the
// request asks for it through the 'response' query parameter.
func WriteResponse(jc jape.Context, resp prometheus.Marshaller) {
	if resp == nil {
		return
	}

	var responseFormat string
	if jc.Check("failed to decode form", jc.DecodeForm("response", &responseFormat)) != nil {
		return
	}
	switch responseFormat {
	case "prometheus":
		enc := prometheus.NewEncoder(jc.ResponseWriter)
		if jc.Check("failed to marshal prometheus response", enc.Append(resp)) != nil {
			return
		}
	case "", "json":
		jc.Encode(resp)
	default:
		jc.Error(fmt.Errorf("unknown response format %q", responseFormat), http.StatusBadRequest)
	}
}
