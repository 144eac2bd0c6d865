package prometheus

import (
	"fmt"
	"io"
	"strings"
)

// A Marshaller can be marshalled into Prometheus samples
type Marshaller interface {
	PrometheusMetric() []Metric
}

type marshallerSlice[M Marshaller] struct {
	slice []M
}

func (s marshallerSlice[M]) PrometheusMetric() []Metric {
	var metrics []Metric
	for _, m := range s.slice {
		metrics = append(metrics, m.PrometheusMetric()...)
	}
	return metrics
}

// Slice converts a slice of Prometheus marshallable objects into a
// single prometheus.Marshaller.
func Slice[T Marshaller](s []T) Marshaller {
	return marshallerSlice[T]{slice: s}
}

// An Encoder writes Prometheus samples to the writer
type Encoder struct {
	used bool
	sb   strings.Builder
	w    io.Writer
}

// Append marshals a Marshaller and appends it to the encoder's output,
// separated from previously appended samples by a newline.
func (e *Encoder) Append(m Marshaller) error {
	e.sb.Reset()
	for _, metric := range m.PrometheusMetric() {
		if e.used {
			e.sb.WriteString("\n")
		}
		e.used = true

		if err := metric.encode(&e.sb); err != nil {
			return fmt.Errorf("failed to encode metric: %w", err)
		}
	}

	if _, err := io.WriteString(e.w, e.sb.String()); err != nil {
		return fmt.Errorf("failed to write metric: %w", err)
	}
	return nil
}

// NewEncoder creates a new Prometheus encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: w,
	}
}
