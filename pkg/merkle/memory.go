package merkle

import (
	"context"
	"errors"
	"sync"
)

// MemoryStorer is an in-memory Storer. It is safe for concurrent use.
type MemoryStorer struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	order    []string
	children map[string]int
}

// NewMemoryStorer returns an empty MemoryStorer.
func NewMemoryStorer() *MemoryStorer {
	return &MemoryStorer{
		nodes:    make(map[string]*Node),
		children: make(map[string]int),
	}
}

func (m *MemoryStorer) Put(_ context.Context, node *Node) (bool, error) {
	if node == nil {
		return false, errors.New("cannot store nil node")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[node.Hash]; ok {
		return false, nil
	}

	m.nodes[node.Hash] = node
	m.order = append(m.order, node.Hash)
	if node.ParentHash != nil {
		m.children[*node.ParentHash]++
	}
	return true, nil
}

func (m *MemoryStorer) Get(_ context.Context, hash string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	return node, nil
}

func (m *MemoryStorer) Has(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.nodes[hash]
	return ok, nil
}

func (m *MemoryStorer) GetByParent(_ context.Context, parentHash *string) ([]*Node, error) {
	return m.filter(func(n *Node) bool {
		if parentHash == nil {
			return n.ParentHash == nil
		}
		return n.ParentHash != nil && *n.ParentHash == *parentHash
	}), nil
}

func (m *MemoryStorer) List(_ context.Context) ([]*Node, error) {
	return m.filter(func(*Node) bool { return true }), nil
}

func (m *MemoryStorer) Roots(ctx context.Context) ([]*Node, error) {
	return m.GetByParent(ctx, nil)
}

func (m *MemoryStorer) Leaves(_ context.Context) ([]*Node, error) {
	return m.filter(func(n *Node) bool { return m.children[n.Hash] == 0 }), nil
}

func (m *MemoryStorer) Ancestry(ctx context.Context, hash string) ([]*Node, error) {
	return ancestry(ctx, m.Get, hash)
}

func (m *MemoryStorer) Close() error {
	return nil
}

func (m *MemoryStorer) filter(keep func(*Node) bool) []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Node, 0, len(m.order))
	for _, hash := range m.order {
		if n := m.nodes[hash]; keep(n) {
			out = append(out, n)
		}
	}
	return out
}
