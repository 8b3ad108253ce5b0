package meter

import (
	"log/slog"

	"github.com/proofflow/proofflow"
)

// LogMeter logs preflight events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ proofflow.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnPreflight(e proofflow.PreflightEvent) {
	if e.Error == nil {
		m.Logger.Info("preflight",
			"run", e.RunID,
			"client", e.Client.Hex(),
			"size_bytes", e.SizeBytes,
			"sufficient", e.Sufficient,
			"deposited", e.Deposited.String(),
			"approved", e.Approved,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("preflight_error",
			"run", e.RunID,
			"client", e.Client.Hex(),
			"size_bytes", e.SizeBytes,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnTransaction(e proofflow.TransactionEvent) {
	if e.Error == nil {
		m.Logger.Info("transaction",
			"run", e.RunID,
			"kind", e.Kind,
			"client", e.Client.Hex(),
			"tx", e.Hash.Hex(),
			"amount", e.Amount.String(),
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("transaction_error",
			"run", e.RunID,
			"kind", e.Kind,
			"client", e.Client.Hex(),
			"tx", e.Hash.Hex(),
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnWatch(e proofflow.WatchEvent) {
	m.Logger.Info("watch",
		"owner", e.Owner.Hex(),
		"piece", e.PieceCID,
		"outcome", e.Outcome.String(),
		"polls", e.Polls,
		"errors", e.Errors,
		"elapsed_ms", e.Elapsed.Milliseconds(),
	)
}
