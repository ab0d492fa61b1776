package bptree_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/sandeepkiranp/pd-linux/bptree"
)

// memStore is an in-memory bptree.NodeStore used to exercise the tree
// algorithm in isolation from carrierio/device wiring; TestDeviceBacked*
// in tree_test.go covers the real DeviceNodeStore path end to end.
type memStore struct {
	mu     sync.Mutex
	nodes  map[uint32]*bptree.Node
	nextID uint32
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[uint32]*bptree.Node)}
}

func (m *memStore) ReadNode(_ context.Context, sector uint32) (*bptree.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[sector]
	if !ok {
		return nil, fmt.Errorf("memstore: no node at sector %d", sector)
	}
	cp := *n
	cp.Keys = append([]uint32{}, n.Keys...)
	cp.Children = append([]uint32{}, n.Children...)
	return &cp, nil
}

func (m *memStore) WriteNode(_ context.Context, sector *uint32, node *bptree.Node) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *node
	cp.Keys = append([]uint32{}, node.Keys...)
	cp.Children = append([]uint32{}, node.Children...)

	if sector != nil {
		m.nodes[*sector] = &cp
		return *sector, nil
	}
	m.nextID++
	id := m.nextID
	m.nodes[id] = &cp
	return id, nil
}

func (m *memStore) FreeNode(_ context.Context, sector uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, sector)
	return nil
}
