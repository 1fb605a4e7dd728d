// Package collector extracts the fixed vLLM metric set from a single
// periodic stats line such as
//
//	INFO 06-10 12:00:00 metrics.py:341] Avg prompt throughput: 0.0 tokens/s, ..., CPU KV cache usage: 0.0%.
//
// The format is rigid: the payload must not contain commas or colons other
// than the ones separating pairs. Parse does not try to be more lenient.
package collector

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingBracket is returned when the line has no ']' marker.
	ErrMissingBracket = errors.New("missing ']' marker")
	// ErrMalformedKeyValue is returned when a comma separated segment has no ':'.
	ErrMalformedKeyValue = errors.New("malformed key/value pair")
	// ErrMissingRequiredMetric is returned when a required metric is absent
	// or its value does not carry the expected unit.
	ErrMissingRequiredMetric = errors.New("missing required metric")
)

// Error kinds as reported by Kind.
const (
	KindMissingBracket        = "missing_bracket"
	KindMalformedKeyValue     = "malformed_key_value"
	KindMissingRequiredMetric = "missing_required_metric"
	KindUnknown               = "unknown"
)

// Parse turns one report line into len(Specs) records in Specs order.
func Parse(raw string) ([]Metric, error) {
	_, payload, found := strings.Cut(raw, "]")
	if !found {
		return nil, ErrMissingBracket
	}

	// The payload is expected to end with a closing marker (usually '.').
	// It is dropped without checking what it is.
	payload = strings.TrimSpace(payload)
	if payload != "" {
		payload = payload[:len(payload)-1]
	}

	kvs := make(map[string]string)
	for _, seg := range strings.Split(payload, ",") {
		k, v, ok := strings.Cut(seg, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedKeyValue, strings.TrimSpace(seg))
		}
		kvs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	out := make([]Metric, 0, len(Specs))
	for _, s := range Specs {
		v, ok := kvs[s.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingRequiredMetric, s.Name)
		}
		val, _, ok := strings.Cut(v, s.Unit)
		if !ok {
			return nil, fmt.Errorf("%w: %q has no unit %q in %q", ErrMissingRequiredMetric, s.Name, s.Unit, v)
		}
		out = append(out, Metric{
			Name:  s.Name,
			Unit:  s.Unit,
			Value: strings.TrimSpace(val),
		})
	}
	return out, nil
}

// Kind maps a Parse error to a stable label usable in logs and metric labels.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMissingBracket):
		return KindMissingBracket
	case errors.Is(err, ErrMalformedKeyValue):
		return KindMalformedKeyValue
	case errors.Is(err, ErrMissingRequiredMetric):
		return KindMissingRequiredMetric
	default:
		return KindUnknown
	}
}
