package proposals

import "github.com/govops/console/internal/ledger"

// The structs below are the typed broadcast envelopes this engine
// produces as side effects of mutating operations. Wire encoding (JSON)
// is the transport layer's concern; this package only shapes the data.

// ProposalOpenedMsg announces a newly opened proposal.
type ProposalOpenedMsg struct {
	Type     string   `json:"type"`
	Proposal Proposal `json:"proposal"`
}

func proposalOpenedMessage(p Proposal) ProposalOpenedMsg {
	return ProposalOpenedMsg{Type: "ledger_event", Proposal: p}
}

// VoteCastMsg carries the ledger event produced by a successful vote.
type VoteCastMsg struct {
	Type          string `json:"type"`
	Seq           int64  `json:"seq"`
	TimestampMs   int64  `json:"timestamp_ms"`
	Kind          string `json:"kind"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
	CausalHash    string `json:"causal_hash"`
}

func voteCastMessage(evt ledger.Event) VoteCastMsg {
	return VoteCastMsg{
		Type:        "ledger_event",
		Seq:         evt.Seq,
		TimestampMs: evt.TimestampMs,
		Kind:        evt.Kind,
		Severity:    evt.Severity,
		Message:     evt.Message,
		CausalHash:  evt.CausalHash,
	}
}

// ProposalSealedMsg announces a sealed proposal's final state.
type ProposalSealedMsg struct {
	Type     string   `json:"type"`
	Proposal Proposal `json:"proposal"`
}

func proposalSealedMessage(p Proposal) ProposalSealedMsg {
	return ProposalSealedMsg{Type: "ledger_event", Proposal: p}
}

// MetricsMsg wraps RoundMetrics as a WS "metrics" envelope.
type MetricsMsg struct {
	Type string `json:"type"`
	RoundMetrics
}

func metricsMessage(m RoundMetrics) MetricsMsg {
	return MetricsMsg{Type: "metrics", RoundMetrics: m}
}
