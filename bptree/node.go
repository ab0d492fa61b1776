// Package bptree implements the persistent B+ tree that backs the
// Hidden-Sector Map (§4.4): an order-m (3..20) tree whose nodes are
// themselves stored through the hidden-write carrier mechanism, addressed
// directly by the physical sector of their carrier run rather than through
// the Map they exist to persist.
package bptree

import "encoding/binary"

// NoSector is the sentinel "no pointer" value used for parent links, the
// leaf-chain Next link, and unused child slots. 0xFFFFFFFF can never be a
// real physical sector on any device this module targets (§6 treats
// addressable sector counts as well under 2^32-1).
const NoSector uint32 = 0xFFFFFFFF

// encodedSize is the fixed on-wire size of one Node. Keys are 4 bytes wide
// (a hidden logical sector number, per hiddenmap.Entry's key space, is a
// full 32-bit value, not 16 bits) and children/records are 4-byte physical
// sector numbers: 1 + 1 + 19*4 + 20*4 + 4 + 4 = 166, comfortably inside the
// 512-byte hidden-sector payload that carries it (the rest is zero padding
// supplied by the hidden-write path, same as any other hidden sector).
const (
	MaxOrder    = 20
	MinOrder    = 3
	encodedSize = 1 + 1 + (MaxOrder-1)*4 + MaxOrder*4 + 4 + 4
)

// Node is one B+ tree node: an inner node holding NumKeys+1 child pointers,
// or a leaf holding NumKeys record pointers plus a link to the next leaf in
// key order (§4.4's "leaves hold the records linked left-to-right"). Keys
// are hidden logical sector numbers; Children are either child-node sectors
// (inner) or record/value sectors (leaf, i.e. the Map's Physical field).
type Node struct {
	IsLeaf   bool
	Keys     []uint32 // len == NumKeys, ascending
	Children []uint32 // inner: len == NumKeys+1 child sectors; leaf: len == NumKeys record/value sectors
	Next     uint32   // leaf only: sector of the next leaf, or NoSector
	Parent   uint32   // NoSector when this is the root
}

// numKeys reports how many keys n currently holds.
func (n *Node) numKeys() int { return len(n.Keys) }

// encode packs n into its fixed 166-byte on-wire form.
func (n *Node) encode() []byte {
	buf := make([]byte, encodedSize)
	if n.IsLeaf {
		buf[0] = 1
	}
	numKeys := n.numKeys()
	if numKeys > MaxOrder-1 {
		numKeys = MaxOrder - 1
	}
	buf[1] = byte(numKeys)

	keysOff := 2
	for i := 0; i < numKeys; i++ {
		binary.LittleEndian.PutUint32(buf[keysOff+i*4:], n.Keys[i])
	}

	childOff := keysOff + (MaxOrder-1)*4
	for i := 0; i < len(n.Children) && i < MaxOrder; i++ {
		binary.LittleEndian.PutUint32(buf[childOff+i*4:], n.Children[i])
	}
	for i := len(n.Children); i < MaxOrder; i++ {
		binary.LittleEndian.PutUint32(buf[childOff+i*4:], NoSector)
	}

	parentOff := childOff + MaxOrder*4
	binary.LittleEndian.PutUint32(buf[parentOff:], n.Parent)

	nextOff := parentOff + 4
	next := n.Next
	if !n.IsLeaf {
		next = NoSector
	}
	binary.LittleEndian.PutUint32(buf[nextOff:], next)

	return buf
}

// decodeNode unpacks a Node from its fixed 166-byte on-wire form.
func decodeNode(buf []byte) (*Node, bool) {
	if len(buf) < encodedSize {
		return nil, false
	}
	n := &Node{IsLeaf: buf[0] == 1}
	numKeys := int(buf[1])
	if numKeys > MaxOrder-1 {
		return nil, false
	}

	keysOff := 2
	n.Keys = make([]uint32, numKeys)
	for i := 0; i < numKeys; i++ {
		n.Keys[i] = binary.LittleEndian.Uint32(buf[keysOff+i*4:])
	}

	childOff := keysOff + (MaxOrder-1)*4
	childCount := numKeys
	if !n.IsLeaf {
		childCount = numKeys + 1
	}
	n.Children = make([]uint32, childCount)
	for i := 0; i < childCount; i++ {
		n.Children[i] = binary.LittleEndian.Uint32(buf[childOff+i*4:])
	}

	parentOff := childOff + MaxOrder*4
	n.Parent = binary.LittleEndian.Uint32(buf[parentOff:])

	nextOff := parentOff + 4
	n.Next = binary.LittleEndian.Uint32(buf[nextOff:])

	return n, true
}
