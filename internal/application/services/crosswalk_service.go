package services

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
)

const (
	// DefaultCrosswalkCapacity is the number of source codes kept in memory
	DefaultCrosswalkCapacity = 1000
	// DefaultMinConfidence is the confidence floor used by BestMapping callers
	DefaultMinConfidence = 0.7
)

// CrosswalkStats is a snapshot of crosswalk cache counters
type CrosswalkStats struct {
	TotalLookups int64 `json:"total_lookups"`
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	StoreHits    int64 `json:"store_hits"`
	StoreMisses  int64 `json:"store_misses"`
	BatchLookups int64 `json:"batch_lookups"`
	CodesBatched int64 `json:"codes_batched"`
	Evictions    int64 `json:"evictions"`
	Size         int   `json:"size"`
	Capacity     int   `json:"capacity"`
}

// CrosswalkService resolves source-vocabulary codes to CPT mappings through
// a bounded in-memory cache in front of the crosswalk store.
//
// Eviction is insertion-order FIFO: reads use Peek and inserts use
// ContainsOrAdd, so a cached key never moves in the recency list. The LRU's
// own lock makes check, evict and insert one atomic step.
type CrosswalkService struct {
	repo     repositories.CrosswalkRepository
	cache    *lru.Cache[string, []*entities.CPTMapping]
	capacity int

	mu    sync.Mutex
	stats CrosswalkStats
}

// NewCrosswalkService creates a crosswalk service holding at most capacity source codes
func NewCrosswalkService(repo repositories.CrosswalkRepository, capacity int) (*CrosswalkService, error) {
	if capacity <= 0 {
		capacity = DefaultCrosswalkCapacity
	}

	s := &CrosswalkService{
		repo:     repo,
		capacity: capacity,
	}
	cache, err := lru.NewWithEvict[string, []*entities.CPTMapping](capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create crosswalk cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *CrosswalkService) onEvict(string, []*entities.CPTMapping) {
	s.mu.Lock()
	s.stats.Evictions++
	s.mu.Unlock()
	observability.RecordCrosswalkEviction(context.Background())
}

// Lookup returns the mappings for sourceCode with confidence >= minConfidence,
// highest confidence first. With useCache false the cache is neither read nor written.
func (s *CrosswalkService) Lookup(ctx context.Context, sourceCode string, minConfidence float64, useCache bool) ([]*entities.CPTMapping, error) {
	s.count(func(st *CrosswalkStats) { st.TotalLookups++ })

	if useCache {
		if mappings, ok := s.cache.Peek(sourceCode); ok {
			s.count(func(st *CrosswalkStats) { st.CacheHits++ })
			observability.RecordCrosswalkCache(ctx, 1, 0)
			return filterByConfidence(mappings, minConfidence), nil
		}
		s.count(func(st *CrosswalkStats) { st.CacheMisses++ })
		observability.RecordCrosswalkCache(ctx, 0, 1)
	}

	mappings, err := s.repo.FindBySourceCode(ctx, sourceCode)
	if err != nil {
		return nil, err
	}

	mappings = s.store(sourceCode, mappings, useCache)
	return filterByConfidence(mappings, minConfidence), nil
}

// LookupBatch resolves many codes at once. All cache misses are fetched with
// a single store query; when every code hits, the store is not queried.
// Every requested code is present in the result.
func (s *CrosswalkService) LookupBatch(ctx context.Context, sourceCodes []string, minConfidence float64) (map[string][]*entities.CPTMapping, error) {
	unique := dedupeCodes(sourceCodes)
	s.count(func(st *CrosswalkStats) {
		st.BatchLookups++
		st.CodesBatched += int64(len(unique))
		st.TotalLookups += int64(len(unique))
	})

	result := make(map[string][]*entities.CPTMapping, len(unique))
	var misses []string
	for _, code := range unique {
		if mappings, ok := s.cache.Peek(code); ok {
			result[code] = filterByConfidence(mappings, minConfidence)
			continue
		}
		misses = append(misses, code)
	}

	hits := len(unique) - len(misses)
	s.count(func(st *CrosswalkStats) {
		st.CacheHits += int64(hits)
		st.CacheMisses += int64(len(misses))
	})
	observability.RecordCrosswalkCache(ctx, hits, len(misses))

	if len(misses) == 0 {
		return result, nil
	}

	found, err := s.repo.FindBySourceCodes(ctx, misses)
	if err != nil {
		return nil, err
	}

	for _, code := range misses {
		mappings := s.store(code, found[code], true)
		result[code] = filterByConfidence(mappings, minConfidence)
	}

	return result, nil
}

// BestMapping returns the highest-confidence mapping passing minConfidence, or nil
func (s *CrosswalkService) BestMapping(ctx context.Context, sourceCode string, minConfidence float64) (*entities.CPTMapping, error) {
	mappings, err := s.Lookup(ctx, sourceCode, minConfidence, true)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return mappings[0], nil
}

// ReverseLookup returns every mapping that resolves to targetCode. It bypasses the cache.
func (s *CrosswalkService) ReverseLookup(ctx context.Context, targetCode string) ([]*entities.CPTMapping, error) {
	mappings, err := s.repo.FindByTargetCode(ctx, targetCode)
	if err != nil {
		return nil, err
	}
	sorted := append([]*entities.CPTMapping(nil), mappings...)
	entities.SortMappingsByConfidence(sorted)
	return sorted, nil
}

// WarmStart pre-loads the most-mapped source codes up to capacity. Failures
// are logged; the cache simply starts cold. Returns the number of codes loaded.
func (s *CrosswalkService) WarmStart(ctx context.Context) int {
	logger := observability.LoggerFromContext(ctx)

	codes, err := s.repo.TopSourceCodes(ctx, s.capacity)
	if err != nil {
		logger.Warn().Err(err).Msg("crosswalk warm start failed to list source codes")
		return 0
	}
	if len(codes) == 0 {
		return 0
	}

	found, err := s.repo.FindBySourceCodes(ctx, codes)
	if err != nil {
		logger.Warn().Err(err).Int("codes", len(codes)).Msg("crosswalk warm start failed to load mappings")
		return 0
	}

	loaded := 0
	for _, code := range codes {
		mappings := found[code]
		if len(mappings) == 0 {
			continue
		}
		sorted := append([]*entities.CPTMapping(nil), mappings...)
		entities.SortMappingsByConfidence(sorted)
		if exists, _ := s.cache.ContainsOrAdd(code, sorted); !exists {
			loaded++
		}
	}

	logger.Info().Int("loaded", loaded).Int("capacity", s.capacity).Msg("crosswalk cache warmed")
	return loaded
}

// Stats returns a snapshot of the cache counters
func (s *CrosswalkService) Stats() CrosswalkStats {
	s.mu.Lock()
	snapshot := s.stats
	s.mu.Unlock()

	snapshot.Size = s.cache.Len()
	snapshot.Capacity = s.capacity
	return snapshot
}

// Cached reports whether sourceCode is currently cached without touching its position
func (s *CrosswalkService) Cached(sourceCode string) bool {
	return s.cache.Contains(sourceCode)
}

// store sorts fresh store results and caches them. Empty results are never
// cached so a later reference-data load is picked up.
func (s *CrosswalkService) store(code string, mappings []*entities.CPTMapping, useCache bool) []*entities.CPTMapping {
	if len(mappings) == 0 {
		s.count(func(st *CrosswalkStats) { st.StoreMisses++ })
		return nil
	}
	s.count(func(st *CrosswalkStats) { st.StoreHits++ })

	sorted := append([]*entities.CPTMapping(nil), mappings...)
	entities.SortMappingsByConfidence(sorted)
	if useCache {
		s.cache.ContainsOrAdd(code, sorted)
	}
	return sorted
}

func (s *CrosswalkService) count(update func(*CrosswalkStats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}

func filterByConfidence(mappings []*entities.CPTMapping, minConfidence float64) []*entities.CPTMapping {
	filtered := make([]*entities.CPTMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.MeetsConfidence(minConfidence) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func dedupeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		unique = append(unique, code)
	}
	return unique
}
