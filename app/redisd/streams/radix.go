// The radix index backing Stream is a bitwise trie with bitmap, or "Array
// Mapped Tree" (AMT), with single-child nodes compressed into a radix.
//
// Each internal node has a bitmap denoting which of its (up to 64) child
// branches are populated. IDs are normalized into a fixed-width 22-byte
// internalKey (see id.go) before insertion, so zero-padding pushes every
// value out to the leaves: for any node, all entries under a "smaller"
// child are ordered before all entries under a "larger" one. That
// invariant is what makes Range/After below cheap instead of a full scan.
//
// Ported from flonle-diy-redis's app/diyredis/streams/radix.go, which
// documents the bitmap/population-count trick in more detail.
package streams

import "math/bits"

// rxNode is one node of the radix index. Only leaves carry an entry.
type rxNode struct {
	entry      *Entry
	bitmap     uint64
	extraChars []uint8 // compressed single-child path segment
	children   []rxNode
}

// Entry is one stream record: an id plus its flat field/value payload.
type Entry struct {
	ID     ID
	Fields [][]byte
}

const maxUint64 = ^uint64(0)

// longestCommonPrefix finds the node with the longest common prefix with
// key. failIdx is -1 exactly when bestMatch is an exact (leaf) match;
// otherwise it is the index into key where the search could not continue,
// and extraFailIdx (if >= 0) is the index into bestMatch.extraChars where a
// compressed-path mismatch occurred.
func (n *rxNode) longestCommonPrefix(key internalKey) (bestMatch *rxNode, failIdx int, extraFailIdx int) {
	cur := n
	for depth := 0; ; depth++ {
		for i, c := range cur.extraChars {
			if c != key[depth+i] {
				return cur, depth + i, i
			}
		}
		depth += len(cur.extraChars)

		if depth == len(key) {
			return cur, -1, -1
		}

		offset := key[depth]
		mask := uint64(1) << offset
		if cur.bitmap&mask == 0 {
			return cur, depth, -1
		}
		cur = &cur.children[childIndex(cur.bitmap, offset)]
	}
}

// create returns the leaf node for key, creating any intermediate nodes
// needed along the way.
func (n *rxNode) create(key internalKey) *rxNode {
	node, failIdx, extraFailIdx := n.longestCommonPrefix(key)
	if failIdx == -1 {
		return node
	}

	var newNode *rxNode
	if extraFailIdx == -1 {
		offset := key[failIdx]
		mask := uint64(1) << offset
		node.bitmap |= mask
		idx := childIndex(node.bitmap, offset)
		node.insertChild(idx)
		newNode = &node.children[idx]
	} else {
		// The compressed path diverges partway through extraChars: split
		// it into two children, one for the existing suffix and one for
		// the new key.
		split := *node
		split.extraChars = node.extraChars[extraFailIdx+1:]

		splitOffset := node.extraChars[extraFailIdx]
		newOffset := key[failIdx]
		if newOffset > splitOffset {
			node.children = []rxNode{split, {}}
			newNode = &node.children[1]
		} else {
			node.children = []rxNode{{}, split}
			newNode = &node.children[0]
		}
		node.extraChars = node.extraChars[:extraFailIdx]
		node.bitmap = uint64(1)<<splitOffset | uint64(1)<<newOffset
		node.entry = nil
	}

	rest := key[failIdx+1:]
	if len(rest) > 0 {
		newNode.extraChars = append([]uint8(nil), rest...)
	}
	return newNode
}

func (n *rxNode) insertChild(idx int) {
	if n.children == nil {
		n.children = []rxNode{{}}
		return
	}
	if len(n.children)+1 > cap(n.children) {
		grown := make([]rxNode, len(n.children)+1, cap(n.children)+2)
		copy(grown, n.children[:idx])
		copy(grown[idx+1:], n.children[idx:])
		n.children = grown
		return
	}
	n.children = n.children[:len(n.children)+1]
	copy(n.children[idx+1:], n.children[idx:])
	n.children[idx] = rxNode{}
}

// rangeEntries returns entries under n with a key between fromKey and
// toKey, inclusive on both ends, ordered lowest to highest.
func (n *rxNode) rangeEntries(fromKey, toKey internalKey) []Entry {
	cur := n
	for depth := 0; ; depth++ {
		for i, c := range cur.extraChars {
			from, to := fromKey[depth+i], toKey[depth+i]

			switch {
			case from == to && to == c:
				continue
			case from == to:
				return []Entry{}
			case from < c && c < to:
				return cur.allEntries()
			case c < from || to < c:
				return []Entry{}
			case c == from:
				return cur.atLeast(fromKey[depth:])
			case c == to:
				return cur.atMost(toKey[depth:])
			}
		}
		depth += len(cur.extraChars)

		if depth == len(fromKey) {
			return []Entry{*cur.entry} // only when fromKey == toKey exactly
		}

		if fromKey[depth] == toKey[depth] {
			offset := toKey[depth]
			mask := uint64(1) << offset
			if cur.bitmap&mask == 0 {
				return []Entry{}
			}
			cur = &cur.children[childIndex(cur.bitmap, offset)]
			continue
		}

		var result []Entry
		if mask := uint64(1) << fromKey[depth]; cur.bitmap&mask != 0 {
			fromNode := cur.children[childIndex(cur.bitmap, fromKey[depth])]
			result = append(result, fromNode.atLeast(fromKey[depth+1:])...)
		}
		for i := fromKey[depth] + 1; i < toKey[depth]; i++ {
			if mask := uint64(1) << i; cur.bitmap&mask != 0 {
				child := cur.children[childIndex(cur.bitmap, i)]
				result = append(result, child.allEntries()...)
			}
		}
		if mask := uint64(1) << toKey[depth]; cur.bitmap&mask != 0 {
			toNode := cur.children[childIndex(cur.bitmap, toKey[depth])]
			result = append(result, toNode.atMost(toKey[depth+1:])...)
		}
		return result
	}
}

// atLeast returns entries under n with a key >= key, lowest to highest.
func (n *rxNode) atLeast(key internalKey) []Entry {
	nodes := n.siblingsAtLeast(key)
	entries := make([]Entry, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		entries = append(entries, nodes[i].allEntries()...)
	}
	return entries
}

// atMost returns entries under n with a key <= key, lowest to highest.
func (n *rxNode) atMost(key internalKey) []Entry {
	nodes := n.siblingsAtMost(key)
	entries := make([]Entry, 0, len(nodes))
	for _, node := range nodes {
		entries = append(entries, node.allEntries()...)
	}
	return entries
}

func (n *rxNode) allEntries() []Entry {
	entries := make([]Entry, 0, 1)
	stack := []*rxNode{n}
	for len(stack) > 0 {
		var node *rxNode
		stack, node = stack[:len(stack)-1], stack[len(stack)-1]
		if node.entry != nil {
			entries = append(entries, *node.entry)
		} else {
			stack = appendReverse(stack, node.children)
		}
	}
	return entries
}

// siblingsAtLeast returns nodes, highest to lowest, whose subtree entries
// are all >= key. It walks a single DFS path for key, collecting the
// higher sibling at each level — not every node satisfying the predicate.
func (n *rxNode) siblingsAtLeast(key internalKey) []*rxNode {
	var result []*rxNode
	cur := n
	for depth := 0; ; depth++ {
		for i, c := range cur.extraChars {
			switch {
			case c < key[depth+i]:
				return result
			case c > key[depth+i]:
				return append(result, cur)
			}
		}
		depth += len(cur.extraChars)

		if depth == len(key) {
			return append(result, cur)
		}

		offset := key[depth]
		mask := uint64(1) << offset
		idx := childIndex(cur.bitmap, offset)
		if cur.bitmap&mask == 0 {
			return appendReverse(result, cur.children[idx:])
		}
		result = appendReverse(result, cur.children[idx+1:])
		cur = &cur.children[idx]
	}
}

// siblingsAtMost returns nodes, lowest to highest, whose subtree entries
// are all <= key.
func (n *rxNode) siblingsAtMost(key internalKey) []*rxNode {
	var result []*rxNode
	cur := n
	for depth := 0; ; depth++ {
		for i, c := range cur.extraChars {
			switch {
			case c > key[depth+i]:
				return result
			case c < key[depth+i]:
				return append(result, cur)
			}
		}
		depth += len(cur.extraChars)

		if depth == len(key) {
			return append(result, cur)
		}

		offset := key[depth]
		mask := uint64(1) << offset
		idx := childIndex(cur.bitmap, offset)
		if cur.bitmap&mask == 0 {
			return appendPtrs(result, cur.children[:idx])
		}
		result = appendPtrs(result, cur.children[:idx])
		cur = &cur.children[idx]
	}
}

func appendPtrs(dst []*rxNode, src []rxNode) []*rxNode {
	for i := range src {
		dst = append(dst, &src[i])
	}
	return dst
}

func appendReverse(dst []*rxNode, src []rxNode) []*rxNode {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, &src[i])
	}
	return dst
}

// childIndex returns the index into children that bitmapOffset maps to,
// via a population count of the bits below it. Does not check presence.
func childIndex(bitmap uint64, bitmapOffset uint8) int {
	if bitmapOffset == 0 {
		return 0
	}
	below := maxUint64 >> (64 - bitmapOffset)
	return bits.OnesCount64(bitmap & below)
}
