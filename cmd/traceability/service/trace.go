package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/logger"
	"github.com/google/uuid"
)

// TraceStore is the persistence surface the trace service needs
type TraceStore interface {
	GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	LotsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Lot, error)
	ParentEdges(ctx context.Context, childLotID uuid.UUID) ([]*models.GenealogyEdge, error)
	ChildEdges(ctx context.Context, parentLotID uuid.UUID) ([]*models.GenealogyEdge, error)
}

// TraceCache caches serialized trace results
type TraceCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithExpiry(ctx context.Context, key string, value []byte, expiry time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// TraceService answers bounded backward/forward genealogy traversals.
// Results are cached; the cache is dropped for a whole lineage whenever a
// new edge touches it.
type TraceService struct {
	store    TraceStore
	cache    TraceCache
	cacheTTL time.Duration
	maxDepth int
	log      *logger.Logger
}

// NewTraceService creates a new trace service. The cache may be nil.
func NewTraceService(store TraceStore, cache TraceCache, cacheTTL time.Duration, maxDepth int, log *logger.Logger) *TraceService {
	return &TraceService{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		maxDepth: maxDepth,
		log:      log,
	}
}

// TraceBackward walks child -> parent edges from the lot, collecting its
// ancestors up to maxDepth
func (s *TraceService) TraceBackward(ctx context.Context, lotID uuid.UUID, maxDepth int) (*models.TraceResult, error) {
	return s.trace(ctx, lotID, maxDepth, models.TraceBackward)
}

// TraceForward walks parent -> child edges from the lot, collecting its
// descendants up to maxDepth
func (s *TraceService) TraceForward(ctx context.Context, lotID uuid.UUID, maxDepth int) (*models.TraceResult, error) {
	return s.trace(ctx, lotID, maxDepth, models.TraceForward)
}

func (s *TraceService) trace(ctx context.Context, lotID uuid.UUID, maxDepth int, direction models.TraceDirection) (*models.TraceResult, error) {
	if maxDepth <= 0 || maxDepth > s.maxDepth {
		maxDepth = s.maxDepth
	}

	cacheKey := fmt.Sprintf("trace:%s:%s:%d", direction, lotID, maxDepth)
	if s.cache != nil {
		if data, hit, err := s.cache.Get(ctx, cacheKey); err == nil && hit {
			result := &models.TraceResult{}
			if err := json.Unmarshal(data, result); err == nil {
				return result, nil
			}
		}
	}

	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}

	// BFS bounded by maxDepth. Cycles are structurally impossible in the
	// edge set; the bound guards traversal against store-level corruption.
	type queued struct {
		id    uuid.UUID
		depth int
	}

	depths := map[uuid.UUID]int{lotID: 0}
	seenEdges := map[uuid.UUID]bool{}
	var edges []*models.GenealogyEdge
	queue := []queued{{lotID, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		var related []*models.GenealogyEdge
		var err error
		if direction == models.TraceBackward {
			related, err = s.store.ParentEdges(ctx, current.id)
		} else {
			related, err = s.store.ChildEdges(ctx, current.id)
		}
		if err != nil {
			return nil, err
		}

		for _, edge := range related {
			next := edge.ParentLotID
			if direction == models.TraceForward {
				next = edge.ChildLotID
			}

			if !seenEdges[edge.ID] {
				seenEdges[edge.ID] = true
				edges = append(edges, edge)
			}

			if _, visited := depths[next]; !visited {
				depths[next] = current.depth + 1
				queue = append(queue, queued{next, current.depth + 1})
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(depths))
	for id := range depths {
		ids = append(ids, id)
	}
	lots, err := s.store.LotsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := &models.TraceResult{Origin: lotID, Edges: edges}
	for _, lot := range lots {
		result.Nodes = append(result.Nodes, models.TraceNode{Lot: lot, Depth: depths[lot.ID]})
	}

	if s.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := s.cache.SetWithExpiry(ctx, cacheKey, data, s.cacheTTL); err != nil {
				s.log.Warn("trace cache write failed", "key", cacheKey, "error", err)
			}
		}
	}

	return result, nil
}

// InvalidateLineage drops cached trace results for every lot connected to
// lotID, in both directions. A new edge changes the answer for the whole
// lineage, not just its endpoints.
func (s *TraceService) InvalidateLineage(ctx context.Context, lotID uuid.UUID) {
	if s.cache == nil {
		return
	}

	visited := map[uuid.UUID]bool{lotID: true}
	queue := []uuid.UUID{lotID}
	depth := 0

	for len(queue) > 0 && depth <= s.maxDepth {
		var nextQueue []uuid.UUID
		for _, id := range queue {
			parents, err := s.store.ParentEdges(ctx, id)
			if err != nil {
				s.log.Warn("lineage invalidation walk failed", "lot_id", id, "error", err)
				continue
			}
			children, err := s.store.ChildEdges(ctx, id)
			if err != nil {
				s.log.Warn("lineage invalidation walk failed", "lot_id", id, "error", err)
				continue
			}

			for _, edge := range parents {
				if !visited[edge.ParentLotID] {
					visited[edge.ParentLotID] = true
					nextQueue = append(nextQueue, edge.ParentLotID)
				}
			}
			for _, edge := range children {
				if !visited[edge.ChildLotID] {
					visited[edge.ChildLotID] = true
					nextQueue = append(nextQueue, edge.ChildLotID)
				}
			}
		}
		queue = nextQueue
		depth++
	}

	for id := range visited {
		if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("trace:*:%s:*", id)); err != nil {
			s.log.Warn("trace cache invalidation failed", "lot_id", id, "error", err)
		}
	}
}
