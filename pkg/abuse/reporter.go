package abuse

import "github.com/pbus-protocol/pbus-go/pkg/secure"

// The monitor is the secure layer's failure reporter.
var _ secure.Reporter = (*Monitor)(nil)

// ReportAuthFailure records an authentication failure from peer.
func (m *Monitor) ReportAuthFailure(peer uint16) {
	m.RecordFault(peer, ReasonAuthFailure)
}

// ReportReplay records a replayed frame from peer.
func (m *Monitor) ReportReplay(peer uint16) {
	m.RecordFault(peer, ReasonReplay)
}
