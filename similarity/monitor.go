package similarity

// Monitor provides hooks to observe a similarity lookup.
type Monitor interface {
	Start(operation string)
	ExactMatches(count int)
	CandidatesScored(scored, kept int)
	Rechecked(outcome string)
	RecheckCapReached()
	Finish(operation string, matches []Match)
}

// Re-check outcomes passed to Monitor.Rechecked.
const (
	RecheckOK     = "ok"
	RecheckFailed = "failed"
)

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)             {}
func (n *noopMonitor) ExactMatches(_ int)         {}
func (n *noopMonitor) CandidatesScored(_, _ int)  {}
func (n *noopMonitor) Rechecked(_ string)         {}
func (n *noopMonitor) RecheckCapReached()         {}
func (n *noopMonitor) Finish(_ string, _ []Match) {}
