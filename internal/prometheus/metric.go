package prometheus

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// A Metric is a Prometheus metric.
type Metric struct {
	Name      string
	Labels    map[string]any
	Value     float64
	Timestamp time.Time
}

// encode encodes a Metric into a Prometheus metric string. Labels are written
// in lexical order so the output is stable.
func (m *Metric) encode(sb *strings.Builder) error {
	sb.WriteString(m.Name)

	if len(m.Labels) > 0 {
		keys := make([]string, 0, len(m.Labels))
		for k := range m.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			v, err := labelValue(m.Labels[k])
			if err != nil {
				return fmt.Errorf("label %q: %w", k, err)
			}
			sb.WriteString(k)
			sb.WriteString(`="`)
			sb.WriteString(escapeLabel(v))
			sb.WriteString(`"`)
		}
		sb.WriteString("}")
	}

	sb.WriteString(" ")
	sb.WriteString(strconv.FormatFloat(m.Value, 'f', -1, 64))

	if !m.Timestamp.IsZero() {
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatInt(m.Timestamp.UnixMilli(), 10))
	}
	return nil
}

func labelValue(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported label value %T", v)
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }
