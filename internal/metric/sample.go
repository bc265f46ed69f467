// Package metric defines the samples relayed to a monitoring backend.
package metric

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Sample is a single observation produced by the upstream collection
// pipeline. Samples are treated as immutable once handed to the relay.
type Sample struct {
	// Name identifies the metric, e.g. "jvm.memory.used".
	Name string `json:"name"`

	// Tags are optional identifying dimensions.
	Tags map[string]string `json:"tags,omitempty"`

	// Value is a bool, a number or a textual representation of either.
	Value any `json:"value"`

	// Timestamp is the observation time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the observation time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// ValueText renders the sample value as text. A nil value renders as
// the empty string.
func (s Sample) ValueText() string {
	switch v := s.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
