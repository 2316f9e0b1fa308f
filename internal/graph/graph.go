package graph

import (
	"context"
	"time"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Graph store contract. The engine persists addresses, transactions,
// relationships, investigations and sealed evidence as graph nodes; the
// analysis engines query it for per-address transaction windows and the
// fund-flow tracer for depth-bounded shortest paths.
//
// The core never concatenates query strings — any backend sits entirely
// behind this interface.

// RelationshipType is the closed set of edge kinds in the graph.
type RelationshipType string

const (
	RelSent             RelationshipType = "SENT"
	RelReceived         RelationshipType = "RECEIVED"
	RelBridgeTransfer   RelationshipType = "BRIDGE_TRANSFER"
	RelInvolves         RelationshipType = "INVOLVES"
	RelMemberOf         RelationshipType = "MEMBER_OF"
	RelTriggered        RelationshipType = "TRIGGERED"
	RelMixerTransaction RelationshipType = "MIXER_TRANSACTION"
)

// Relationship is one directed edge between two node keys.
type Relationship struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Type      RelationshipType `json:"type"`
	TxHash    string           `json:"txHash,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Store is the durable graph backend contract.
type Store interface {
	UpsertAddress(ctx context.Context, addr models.Address) error
	UpsertTransaction(ctx context.Context, tx models.Transaction) error
	AppendRelationship(ctx context.Context, rel Relationship) error

	// TransactionsByAddress returns every stored transaction in which the
	// address appears as sender or receiver, on any chain, within
	// [from, to], ordered by timestamp ascending.
	TransactionsByAddress(ctx context.Context, addr models.Address, from, to time.Time) ([]models.Transaction, error)

	// ShortestPath returns the transaction path between two addresses with
	// at most maxDepth hops inside the time window, or nil when no path
	// exists within the bound.
	ShortestPath(ctx context.Context, from, to models.Address, maxDepth int, window time.Duration) ([]models.Transaction, error)

	// Evidence persistence. Entries are append-only; purge operates on
	// whole investigations only.
	AppendEvidence(ctx context.Context, ev models.Evidence) error
	ListEvidence(ctx context.Context, investigationID string) ([]models.Evidence, error)
	PurgeInvestigations(ctx context.Context, before time.Time) (int, error)
}
