package hierarchy

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Store is the full persistence surface of the resource tree. It subsumes
// the lookup and maintenance interfaces the permission evaluator and the
// requirement gate depend on.
type Store interface {
	authz.HierarchyMaintainer

	GetNode(ctx context.Context, nodeID int64) (*Node, error)
	CreateNode(ctx context.Context, node *Node) (*Node, error)
	DeleteNode(ctx context.Context, nodeID int64) error

	// AncestorIDs returns the chain from the node up to its root, nearest
	// first. includeSelf prepends the node itself.
	AncestorIDs(ctx context.Context, nodeID int64, includeSelf bool) ([]int64, error)
}

// CacheConfig sizes the read-through caches.
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultCacheConfig returns sizing suitable for a few thousand hot nodes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 16384, TTL: 30 * time.Second}
}

type nodeFacts struct {
	benefactor int64
	createdBy  int64
	isProject  bool
}

// CachedStore is a read-through cache over a Store. Benefactor pointers,
// creators and node types are immutable between rebinds, so they cache
// well; any rebind purges the whole cache because the affected subtree
// cannot be enumerated cheaply.
type CachedStore struct {
	inner   Store
	facts   *lru.LRU[int64, nodeFacts]
	metrics *observability.Metrics
}

const cacheName = "node_facts"

// NewCachedStore wraps a store with an expiring LRU
func NewCachedStore(inner Store, cfg CacheConfig, metrics *observability.Metrics) *CachedStore {
	if cfg.MaxEntries < 10 {
		cfg.MaxEntries = 10
	}
	return &CachedStore{
		inner:   inner,
		facts:   lru.NewLRU[int64, nodeFacts](cfg.MaxEntries, nil, cfg.TTL),
		metrics: metrics,
	}
}

func (c *CachedStore) lookup(ctx context.Context, nodeID int64) (nodeFacts, error) {
	if f, ok := c.facts.Get(nodeID); ok {
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.WithLabelValues(cacheName).Inc()
		}
		return f, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}

	node, err := c.inner.GetNode(ctx, nodeID)
	if err != nil {
		return nodeFacts{}, err
	}
	f := nodeFacts{
		benefactor: node.BenefactorID,
		createdBy:  node.CreatedBy,
		isProject:  node.Type == NodeTypeProject,
	}
	c.facts.Add(nodeID, f)
	return f, nil
}

// GetBenefactor implements authz.HierarchyLookup
func (c *CachedStore) GetBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	f, err := c.lookup(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return f.benefactor, nil
}

// GetCreatedBy implements authz.HierarchyLookup
func (c *CachedStore) GetCreatedBy(ctx context.Context, nodeID int64) (int64, error) {
	f, err := c.lookup(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return f.createdBy, nil
}

// IsProject implements authz.HierarchyLookup
func (c *CachedStore) IsProject(ctx context.Context, nodeID int64) (bool, error) {
	f, err := c.lookup(ctx, nodeID)
	if err != nil {
		return false, err
	}
	return f.isProject, nil
}

// RebindBenefactor delegates to the store and purges the cache. The rebind
// touches an unknown subset of the subtree, so selective eviction is not
// possible.
func (c *CachedStore) RebindBenefactor(ctx context.Context, nodeID, oldBenefactor, newBenefactor int64) error {
	if err := c.inner.RebindBenefactor(ctx, nodeID, oldBenefactor, newBenefactor); err != nil {
		return err
	}
	c.facts.Purge()
	return nil
}

// ParentBenefactor implements authz.HierarchyMaintainer
func (c *CachedStore) ParentBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	return c.inner.ParentBenefactor(ctx, nodeID)
}

// GetNode bypasses the facts cache; full node reads are rare
func (c *CachedStore) GetNode(ctx context.Context, nodeID int64) (*Node, error) {
	return c.inner.GetNode(ctx, nodeID)
}

// CreateNode delegates and primes the cache with the new node's facts
func (c *CachedStore) CreateNode(ctx context.Context, node *Node) (*Node, error) {
	created, err := c.inner.CreateNode(ctx, node)
	if err != nil {
		return nil, err
	}
	c.facts.Add(created.ID, nodeFacts{
		benefactor: created.BenefactorID,
		createdBy:  created.CreatedBy,
		isProject:  created.Type == NodeTypeProject,
	})
	return created, nil
}

// DeleteNode delegates and evicts the node
func (c *CachedStore) DeleteNode(ctx context.Context, nodeID int64) error {
	if err := c.inner.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	c.facts.Remove(nodeID)
	return nil
}

// AncestorIDs implements accessreq.AncestorLookup
func (c *CachedStore) AncestorIDs(ctx context.Context, nodeID int64, includeSelf bool) ([]int64, error) {
	return c.inner.AncestorIDs(ctx, nodeID, includeSelf)
}
