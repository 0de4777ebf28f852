package fanout

// Report is the aggregate outcome of one fan-out pass. It is returned
// synchronously to the caller and never persisted.
//
// An empty registry yields {Total: 0} with both lists empty; callers must
// treat that differently from "all destinations failed".
type Report struct {
	// ID correlates the report with the engine's log lines.
	ID string

	Total int

	// Succeeded holds one label per successful destination: the chat id,
	// suffixed with the resolved chat title when the delivery receipt
	// carried one.
	Succeeded []string

	// Failed holds the chat ids of destinations whose send failed after
	// any applicable retries.
	Failed []int64
}

func (r Report) AllOK() bool { return len(r.Failed) == 0 }
