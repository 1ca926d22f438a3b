package members

import "github.com/govops/console/internal/ledger"

// The structs below are the typed broadcast envelopes die() produces as
// side effects of a death transition. Wire encoding (JSON) is the
// transport layer's concern; this package only shapes the data.

// LedgerEventMsg carries a member-pool-originated ledger event
// (member_damaged, member_died), mirroring how proposals.VoteCastMsg
// shapes vote_cast.
type LedgerEventMsg struct {
	Type        string `json:"type"`
	Seq         int64  `json:"seq"`
	TimestampMs int64  `json:"timestamp_ms"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	CausalHash  string `json:"causal_hash"`
}

func ledgerEventMessage(evt ledger.Event) LedgerEventMsg {
	return LedgerEventMsg{
		Type:        "ledger_event",
		Seq:         evt.Seq,
		TimestampMs: evt.TimestampMs,
		Kind:        evt.Kind,
		Severity:    evt.Severity,
		Message:     evt.Message,
		CausalHash:  evt.CausalHash,
	}
}

// GraveyardEventMsg announces a newly sealed tombstone, per the
// dedicated "graveyard_event" envelope in spec §6.
type GraveyardEventMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func graveyardEventMessage(id string) GraveyardEventMsg {
	return GraveyardEventMsg{Type: "graveyard_event", ID: id}
}
