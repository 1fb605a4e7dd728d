package collector

// Spec names one required metric of a vLLM stats line and the unit that
// follows its value.
type Spec struct {
	Name string // e.g. "Running"
	Unit string // e.g. "reqs"
}

// Specs is the fixed set of metrics every report must carry. Parse emits
// records in exactly this order.
var Specs = [...]Spec{
	{Name: "Avg prompt throughput", Unit: "tokens/s"},
	{Name: "Avg generation throughput", Unit: "tokens/s"},
	{Name: "Running", Unit: "reqs"},
	{Name: "Swapped", Unit: "reqs"},
	{Name: "Pending", Unit: "reqs"},
	{Name: "GPU KV cache usage", Unit: "%"},
	{Name: "CPU KV cache usage", Unit: "%"},
}

// Metric holds a single extracted value together with its spec.
// Value is kept as text; no numeric validation is done.
type Metric struct {
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Value string `json:"value"`
}

// Clone returns a copy of ms that shares no backing array with it.
func Clone(ms []Metric) []Metric {
	if ms == nil {
		return nil
	}
	out := make([]Metric, len(ms))
	copy(out, ms)
	return out
}
