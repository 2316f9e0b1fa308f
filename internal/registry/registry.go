package registry

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Protocol Registry — in-memory index of known protocol contracts.
//
// Read-mostly: classification is an O(1) lookup on (chain, lowercased
// address) with a chain-agnostic fallback for unknown chains. Refresh
// builds a shadow index and installs it with a single atomic pointer swap,
// so readers never observe a partial load.

// snapshot is one immutable generation of the index.
type snapshot struct {
	byChainAddr map[string]*models.ProtocolEntry // "chain:addr" → entry
	byAddr      map[string]*models.ProtocolEntry // "addr" → entry (chain-agnostic)
	byType      map[models.ProtocolType][]*models.ProtocolEntry
	entries     []*models.ProtocolEntry
}

// Registry classifies addresses as belonging to known protocols.
type Registry struct {
	current atomic.Pointer[snapshot]
	logger  *zap.Logger
}

// New creates an empty registry. Call Refresh to load entries.
func New(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("registry")}
	r.current.Store(buildSnapshot(nil))
	return r
}

// Refresh atomically replaces the live index with one built from the given
// entries and returns the entry-count delta.
func (r *Registry) Refresh(entries []models.ProtocolEntry) (delta int, err error) {
	for i := range entries {
		if entries[i].Name == "" {
			return 0, fmt.Errorf("registry: entry %d has no name", i)
		}
		if entries[i].Type == "" {
			return 0, fmt.Errorf("registry: entry %q has no type", entries[i].Name)
		}
	}

	prev := len(r.current.Load().entries)
	r.current.Store(buildSnapshot(entries))
	delta = len(entries) - prev

	r.logger.Info("protocol registry refreshed",
		zap.Int("entries", len(entries)), zap.Int("delta", delta))
	return delta, nil
}

// Classify returns the protocol owning the address, or nil. An empty chain
// (or a chain the entry does not list) falls back to the chain-agnostic
// index.
func (r *Registry) Classify(address, chainTag string) *models.ProtocolEntry {
	snap := r.current.Load()
	addr := strings.ToLower(strings.TrimSpace(address))

	if chainTag != "" {
		if entry, ok := snap.byChainAddr[strings.ToLower(chainTag)+":"+addr]; ok {
			return entry
		}
	}
	return snap.byAddr[addr]
}

// ByType lists every registered protocol of the given type.
func (r *Registry) ByType(t models.ProtocolType) []*models.ProtocolEntry {
	return r.current.Load().byType[t]
}

// Count returns the number of registered protocols.
func (r *Registry) Count() int {
	return len(r.current.Load().entries)
}

// IsType reports whether the address belongs to a protocol of the given
// type — the common question the analysis engines ask.
func (r *Registry) IsType(address, chainTag string, t models.ProtocolType) bool {
	entry := r.Classify(address, chainTag)
	return entry != nil && entry.Type == t
}

func buildSnapshot(entries []models.ProtocolEntry) *snapshot {
	snap := &snapshot{
		byChainAddr: make(map[string]*models.ProtocolEntry),
		byAddr:      make(map[string]*models.ProtocolEntry),
		byType:      make(map[models.ProtocolType][]*models.ProtocolEntry),
	}
	for i := range entries {
		entry := &entries[i]
		snap.entries = append(snap.entries, entry)
		snap.byType[entry.Type] = append(snap.byType[entry.Type], entry)
		for chainTag, addrs := range entry.Addresses {
			for _, addr := range addrs {
				lower := strings.ToLower(addr)
				snap.byChainAddr[strings.ToLower(chainTag)+":"+lower] = entry
				snap.byAddr[lower] = entry
			}
		}
	}
	return snap
}
