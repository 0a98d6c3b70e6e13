package hierarchy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/authz"
)

type countingStore struct {
	nodes    map[int64]*Node
	getCalls int
}

func newCountingStore() *countingStore {
	return &countingStore{nodes: make(map[int64]*Node)}
}

func (s *countingStore) add(id int64, parentID *int64, benefactor int64, t NodeType, createdBy int64) {
	s.nodes[id] = &Node{ID: id, ParentID: parentID, BenefactorID: benefactor, Type: t, CreatedBy: createdBy}
}

func (s *countingStore) GetNode(_ context.Context, nodeID int64) (*Node, error) {
	s.getCalls++
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return n, nil
}

func (s *countingStore) CreateNode(_ context.Context, node *Node) (*Node, error) {
	s.nodes[node.ID] = node
	return node, nil
}

func (s *countingStore) DeleteNode(_ context.Context, nodeID int64) error {
	delete(s.nodes, nodeID)
	return nil
}

func (s *countingStore) GetBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	n, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return n.BenefactorID, nil
}

func (s *countingStore) GetCreatedBy(ctx context.Context, nodeID int64) (int64, error) {
	n, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return n.CreatedBy, nil
}

func (s *countingStore) IsProject(ctx context.Context, nodeID int64) (bool, error) {
	n, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return false, err
	}
	return n.Type == NodeTypeProject, nil
}

func (s *countingStore) RebindBenefactor(_ context.Context, nodeID, oldBenefactor, newBenefactor int64) error {
	for _, n := range s.nodes {
		if n.BenefactorID == oldBenefactor {
			n.BenefactorID = newBenefactor
		}
	}
	return nil
}

func (s *countingStore) ParentBenefactor(ctx context.Context, nodeID int64) (int64, error) {
	n, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	if n.ParentID == nil {
		return 0, fmt.Errorf("node %d is a root: %w", nodeID, authz.ErrInvalidInput)
	}
	return s.GetBenefactor(ctx, *n.ParentID)
}

func (s *countingStore) AncestorIDs(ctx context.Context, nodeID int64, includeSelf bool) ([]int64, error) {
	var out []int64
	if includeSelf {
		out = append(out, nodeID)
	}
	n, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for n.ParentID != nil {
		out = append(out, *n.ParentID)
		n, err = s.GetNode(ctx, *n.ParentID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func int64Ptr(v int64) *int64 { return &v }

func TestCachedStoreBenefactorHitsOnce(t *testing.T) {
	inner := newCountingStore()
	inner.add(1, nil, 1, NodeTypeProject, 10)
	inner.add(2, int64Ptr(1), 1, NodeTypeFolder, 10)

	c := NewCachedStore(inner, CacheConfig{MaxEntries: 100, TTL: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		b, err := c.GetBenefactor(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), b)
	}
	assert.Equal(t, 1, inner.getCalls)

	// Creator and project facts ride the same cache entry.
	createdBy, err := c.GetCreatedBy(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(10), createdBy)
	isProject, err := c.IsProject(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, isProject)
	assert.Equal(t, 1, inner.getCalls)
}

func TestCachedStoreRebindPurges(t *testing.T) {
	inner := newCountingStore()
	inner.add(1, nil, 1, NodeTypeProject, 10)
	inner.add(2, int64Ptr(1), 1, NodeTypeFolder, 10)

	c := NewCachedStore(inner, CacheConfig{MaxEntries: 100, TTL: time.Minute}, nil)

	b, err := c.GetBenefactor(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), b)

	// Node 2 gets its own ACL; the stale pointer must not survive.
	require.NoError(t, c.RebindBenefactor(context.Background(), 2, 1, 2))

	b, err = c.GetBenefactor(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b)
}

func TestCachedStoreMissingNode(t *testing.T) {
	c := NewCachedStore(newCountingStore(), DefaultCacheConfig(), nil)

	_, err := c.GetBenefactor(context.Background(), 999)
	assert.ErrorIs(t, err, authz.ErrNotFound)
}

func TestCachedStoreCreatePrimes(t *testing.T) {
	inner := newCountingStore()
	c := NewCachedStore(inner, DefaultCacheConfig(), nil)

	_, err := c.CreateNode(context.Background(), &Node{ID: 7, BenefactorID: 7, Type: NodeTypeProject, CreatedBy: 10})
	require.NoError(t, err)

	b, err := c.GetBenefactor(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b)
	assert.Zero(t, inner.getCalls)
}
