package meter

import "github.com/proofflow/proofflow"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ proofflow.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnPreflight(proofflow.PreflightEvent)     {}
func (m *NoopMeter) OnTransaction(proofflow.TransactionEvent) {}
func (m *NoopMeter) OnWatch(proofflow.WatchEvent)             {}
