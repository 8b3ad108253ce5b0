package meter

import "github.com/proofflow/proofflow"

// MultiMeter fans events out to several meters in order.
type MultiMeter []proofflow.Meter

var _ proofflow.Meter = MultiMeter(nil)

// Multi combines meters. Nil meters are skipped.
func Multi(meters ...proofflow.Meter) MultiMeter {
	out := make(MultiMeter, 0, len(meters))
	for _, m := range meters {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (mm MultiMeter) OnPreflight(e proofflow.PreflightEvent) {
	for _, m := range mm {
		m.OnPreflight(e)
	}
}

func (mm MultiMeter) OnTransaction(e proofflow.TransactionEvent) {
	for _, m := range mm {
		m.OnTransaction(e)
	}
}

func (mm MultiMeter) OnWatch(e proofflow.WatchEvent) {
	for _, m := range mm {
		m.OnWatch(e)
	}
}
