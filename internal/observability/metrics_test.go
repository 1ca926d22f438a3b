package observability

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestNewMetricsRegistersWithoutPanicking(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	// A second independent registry must not collide with the first.
	NewMetrics()
}

func TestServeMetricsExposesHealthzAndMetrics(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- m.ServeMetrics(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeMetrics did not return after context cancellation")
	}
}

func TestMetricsLabelsAcceptExpectedValues(t *testing.T) {
	m := NewMetrics()
	m.LedgerEventsTotal.WithLabelValues("vote_cast").Inc()
	m.ProposalsSealedTotal.WithLabelValues("consensus").Inc()
	m.VotesCastTotal.WithLabelValues("for").Inc()
	m.MembersDiedTotal.WithLabelValues("fatal_damage").Inc()
	_ = http.StatusOK
}
