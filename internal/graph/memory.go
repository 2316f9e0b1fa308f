package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// MemoryStore is the in-process graph backend: the single-node default and
// the test double. Transactions are indexed per bare address so cross-chain
// activity of one address surfaces in a single query; shortest path is
// plain BFS bounded by depth.
type MemoryStore struct {
	mu            sync.RWMutex
	addresses     map[string]models.Address
	transactions  map[string]models.Transaction
	byAddress     map[string][]string // lowercased address → tx keys, insertion order
	relationships []Relationship
	evidence      map[string][]models.Evidence // investigation ID → ordered entries
	sealedAt      map[string]time.Time         // investigation ID → last append
}

// NewMemoryStore creates an empty in-memory graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		addresses:    make(map[string]models.Address),
		transactions: make(map[string]models.Transaction),
		byAddress:    make(map[string][]string),
		evidence:     make(map[string][]models.Evidence),
		sealedAt:     make(map[string]time.Time),
	}
}

func (s *MemoryStore) UpsertAddress(_ context.Context, addr models.Address) error {
	s.mu.Lock()
	s.addresses[addr.Key()] = addr
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpsertTransaction(_ context.Context, tx models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Key()
	if _, exists := s.transactions[key]; !exists {
		fromKey := strings.ToLower(tx.From)
		toKey := strings.ToLower(tx.To)
		s.byAddress[fromKey] = append(s.byAddress[fromKey], key)
		if toKey != fromKey {
			s.byAddress[toKey] = append(s.byAddress[toKey], key)
		}
	}
	s.transactions[key] = tx
	return nil
}

func (s *MemoryStore) AppendRelationship(_ context.Context, rel Relationship) error {
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.relationships = append(s.relationships, rel)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TransactionsByAddress(_ context.Context, addr models.Address, from, to time.Time) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, txKey := range s.byAddress[strings.ToLower(addr.Address)] {
		tx := s.transactions[txKey]
		if !from.IsZero() && tx.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Timestamp.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ShortestPath runs BFS over the sender→receiver edges. The window bounds
// hop timestamps relative to the first transaction on the path.
func (s *MemoryStore) ShortestPath(_ context.Context, from, to models.Address, maxDepth int, window time.Duration) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxDepth < 1 {
		return nil, nil
	}

	type queueEntry struct {
		addrKey string
		path    []models.Transaction
	}

	start := strings.ToLower(from.Address)
	target := strings.ToLower(to.Address)
	visited := map[string]bool{start: true}
	queue := []queueEntry{{addrKey: start}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path) >= maxDepth {
			continue
		}

		for _, txKey := range s.byAddress[cur.addrKey] {
			tx := s.transactions[txKey]
			// Only expand edges leaving the current address.
			if cur.addrKey != strings.ToLower(tx.From) {
				continue
			}
			if window > 0 && len(cur.path) > 0 {
				if tx.Timestamp.Sub(cur.path[0].Timestamp) > window {
					continue
				}
			}

			next := append(append([]models.Transaction{}, cur.path...), tx)
			if strings.ToLower(tx.To) == target {
				return next, nil
			}

			nextKey := strings.ToLower(tx.To)
			if !visited[nextKey] {
				visited[nextKey] = true
				queue = append(queue, queueEntry{addrKey: nextKey, path: next})
			}
		}
	}
	return nil, nil
}

func (s *MemoryStore) AppendEvidence(_ context.Context, ev models.Evidence) error {
	s.mu.Lock()
	s.evidence[ev.InvestigationID] = append(s.evidence[ev.InvestigationID], ev)
	if ev.Timestamp.After(s.sealedAt[ev.InvestigationID]) {
		s.sealedAt[ev.InvestigationID] = ev.Timestamp
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListEvidence(_ context.Context, investigationID string) ([]models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.evidence[investigationID]
	out := make([]models.Evidence, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) PurgeInvestigations(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sealed := range s.sealedAt {
		if sealed.Before(before) {
			delete(s.evidence, id)
			delete(s.sealedAt, id)
			purged++
		}
	}
	return purged, nil
}
