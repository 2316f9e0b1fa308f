package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Evidence Store — append-only chain of custody.
//
// Every finding accepted by the orchestrator is sealed here: serialized
// under RFC 8785 canonical JSON (stable key ordering, fixed number form,
// UTC timestamps) and hashed with SHA-256. Entries are never rewritten;
// report verification recomputes each hash from the stored bytes.
//
// Sequence numbers are strictly monotonic per investigation with no gaps —
// the order the orchestrator accepted findings, observable but not causally
// meaningful for fusion.

// Store seals findings into evidence entries backed by the graph store.
type Store struct {
	mu      sync.Mutex
	backend graph.Store
	seq     map[string]int
	logger  *zap.Logger
}

// NewStore creates an evidence store over the given graph backend.
func NewStore(backend graph.Store, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		seq:     make(map[string]int),
		logger:  logger.Named("evidence"),
	}
}

// Append seals one finding under an investigation and returns the evidence
// entry. The per-investigation sequence is allocated under the store lock
// so concurrent appends can never produce gaps or duplicates.
func (s *Store) Append(ctx context.Context, investigationID string, finding models.Finding) (models.Evidence, error) {
	payload, hash, err := Seal(finding)
	if err != nil {
		return models.Evidence{}, fmt.Errorf("evidence: seal finding %s: %w", finding.ID, err)
	}

	s.mu.Lock()
	if _, known := s.seq[investigationID]; !known {
		// Recover the high-water mark after a restart.
		existing, listErr := s.backend.ListEvidence(ctx, investigationID)
		if listErr != nil {
			s.mu.Unlock()
			return models.Evidence{}, fmt.Errorf("evidence: recover sequence for %s: %w", investigationID, listErr)
		}
		s.seq[investigationID] = len(existing)
	}
	s.seq[investigationID]++
	seq := s.seq[investigationID]
	s.mu.Unlock()

	entry := models.Evidence{
		ID:              uuid.NewString(),
		InvestigationID: investigationID,
		FindingID:       finding.ID,
		Sequence:        seq,
		Source:          finding.SourceID,
		Timestamp:       time.Now().UTC(),
		ContentHash:     hash,
		Payload:         payload,
	}

	if err := s.backend.AppendEvidence(ctx, entry); err != nil {
		return models.Evidence{}, fmt.Errorf("evidence: persist entry %s: %w", entry.ID, err)
	}

	s.logger.Debug("evidence sealed",
		zap.String("investigation", investigationID),
		zap.Int("seq", seq),
		zap.String("source", finding.SourceID),
		zap.String("kind", string(finding.Kind)))
	return entry, nil
}

// List returns the ordered evidence for an investigation.
func (s *Store) List(ctx context.Context, investigationID string) ([]models.Evidence, error) {
	return s.backend.ListEvidence(ctx, investigationID)
}

// Purge removes whole investigations sealed before the cutoff and returns
// how many were removed. Individual entries are never deleted.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	count, err := s.backend.PurgeInvestigations(ctx, before)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("evidence retention purge", zap.Int("investigations", count), zap.Time("before", before))
	}
	return count, nil
}

// Verify recomputes the content hash from the stored payload.
func Verify(ev models.Evidence) bool {
	sum := sha256.Sum256(ev.Payload)
	return hex.EncodeToString(sum[:]) == ev.ContentHash
}

// Seal serializes a finding to canonical bytes and hashes them.
func Seal(finding models.Finding) (payload []byte, hash string, err error) {
	raw, err := json.Marshal(finding)
	if err != nil {
		return nil, "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}
