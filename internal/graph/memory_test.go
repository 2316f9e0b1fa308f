package graph

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

func seedChain(t *testing.T, s *MemoryStore, hops int, base time.Time) {
	t.Helper()
	addrs := []string{"0xaa", "0xbb", "0xcc", "0xdd", "0xee", "0xff", "0x11", "0x22", "0x33", "0x44", "0x55", "0x66"}
	for i := 0; i < hops; i++ {
		err := s.UpsertTransaction(context.Background(), models.Transaction{
			Chain:     "ethereum",
			Hash:      addrs[i] + "-tx",
			From:      addrs[i],
			To:        addrs[i+1],
			Value:     1000,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestShortestPathRespectsDepthBound(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seedChain(t, s, 11, base)

	from := models.NewAddress("ethereum", "0xaa")

	// 11 hops needed, bound is 10 — no path.
	far := models.NewAddress("ethereum", "0x66")
	path, err := s.ShortestPath(context.Background(), from, far, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if path != nil {
		t.Errorf("expected no path within depth 10, got %d hops", len(path))
	}

	// 3 hops needed, bound is 10 — path of length 3.
	near := models.NewAddress("ethereum", "0xdd")
	path, err = s.ShortestPath(context.Background(), from, near, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 {
		t.Errorf("expected 3-hop path, got %d", len(path))
	}
}

func TestTransactionsByAddressWindow(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.UpsertTransaction(ctx, models.Transaction{
			Chain:     "ethereum",
			Hash:      string(rune('a' + i)),
			From:      "0xAB",
			To:        "0xcd",
			Value:     float64(i),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}

	addr := models.NewAddress("ethereum", "0xab")
	txs, err := s.TransactionsByAddress(ctx, addr, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions in window, got %d", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].Timestamp.Before(txs[i-1].Timestamp) {
			t.Error("results not ordered by timestamp")
		}
	}
}

func TestPurgeInvestigationsIsWholeInvestigation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	_ = s.AppendEvidence(ctx, models.Evidence{ID: "e1", InvestigationID: "inv-old", Sequence: 1, Timestamp: old})
	_ = s.AppendEvidence(ctx, models.Evidence{ID: "e2", InvestigationID: "inv-new", Sequence: 1, Timestamp: time.Now()})

	purged, err := s.PurgeInvestigations(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged investigation, got %d", purged)
	}

	remaining, _ := s.ListEvidence(ctx, "inv-new")
	if len(remaining) != 1 {
		t.Error("recent investigation evidence must survive the purge")
	}
	gone, _ := s.ListEvidence(ctx, "inv-old")
	if len(gone) != 0 {
		t.Error("purged investigation evidence still present")
	}
}
