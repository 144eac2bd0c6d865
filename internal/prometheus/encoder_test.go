package prometheus

import (
	"bytes"
	"testing"
)

type encType struct {
	Test float64
}

func (e encType) PrometheusMetric() []Metric {
	return []Metric{{
		Name: "test",
		Labels: map[string]any{
			"status": "swept",
			"count":  10,
		},
		Value: e.Test,
	}}
}

func TestEncode(t *testing.T) {
	v := encType{
		Test: 1.5,
	}

	var b bytes.Buffer
	e := NewEncoder(&b)
	if err := e.Append(&v); err != nil {
		t.Fatal(err)
	}

	got := b.String()
	const expected = `test{count="10",status="swept"} 1.5`
	if got != expected {
		t.Fatalf("prometheus marshaling: expected %s, got %s", expected, got)
	}
}

func TestEncodeSlice(t *testing.T) {
	v := []encType{
		{
			Test: 1.5,
		},
		{
			Test: 1.4,
		},
	}

	var b bytes.Buffer
	e := NewEncoder(&b)
	if err := e.Append(Slice(v)); err != nil {
		t.Fatal(err)
	}
	if err := e.Append(encType{Test: 2}); err != nil {
		t.Fatal(err)
	}

	got := b.String()
	const expected = `test{count="10",status="swept"} 1.5
test{count="10",status="swept"} 1.4
test{count="10",status="swept"} 2`
	if got != expected {
		t.Fatalf("prometheus marshaling: expected %s, got %s", expected, got)
	}
}

func TestEncodeEscapesLabels(t *testing.T) {
	m := Metric{Name: "quoted", Labels: map[string]any{"v": `a"b`}, Value: 1}

	var b bytes.Buffer
	if err := NewEncoder(&b).Append(metricsOf{m}); err != nil {
		t.Fatal(err)
	}
	if got, want := b.String(), `quoted{v="a\"b"} 1`; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	bad := Metric{Name: "bad", Labels: map[string]any{"v": struct{}{}}}
	if err := NewEncoder(&b).Append(metricsOf{bad}); err == nil {
		t.Fatal("expected error for unsupported label")
	}
}

type metricsOf []Metric

func (m metricsOf) PrometheusMetric() []Metric { return m }
