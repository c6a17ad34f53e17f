package trie

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"ObSync/internal/store"
)

// The closed error taxonomy of the ledger store. Every variant is
// non-retryable: the worker resets the root pointer to the sentinel
// and aborts the cycle, forcing a clean resync.
var (
	ErrInvalidStateRoot     = errors.New("trie: invalid state root")
	ErrIncompleteDatabase   = errors.New("trie: incomplete database")
	ErrValueAtIncompleteKey = errors.New("trie: value at incomplete key")
	ErrDecode               = errors.New("trie: decoder error")
	ErrInvalidHash          = errors.New("trie: invalid hash")
)

// IsCorruption reports whether err belongs to the store corruption
// taxonomy.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrInvalidStateRoot) ||
		errors.Is(err, ErrIncompleteDatabase) ||
		errors.Is(err, ErrValueAtIncompleteKey) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrInvalidHash)
}

// State is the buffered view of the ledger trie for one replay cycle.
// Reads fall through the overlay to the node arena at the loaded root;
// writes stay in the overlay until Commit folds them into the arena
// and returns the new root. Identical mutation sets produce identical
// roots regardless of insertion order.
//
// State is not safe for concurrent use. The replay worker owns it
// exclusively for the duration of a cycle.
type State struct {
	db      store.Database
	root    [HashSize]byte
	pending map[string][]byte
}

// Load opens the trie at root. The sentinel (all-zero) root denotes
// the empty trie.
func Load(db store.Database, root [HashSize]byte) *State {
	return &State{
		db:      db,
		root:    root,
		pending: make(map[string][]byte),
	}
}

// Root returns the last committed root.
func (s *State) Root() [HashSize]byte { return s.root }

// Insert buffers a key/value write. Values overwrite earlier pending
// writes for the same key; nothing touches the arena until Commit.
func (s *State) Insert(key, value []byte) error {
	if len(key) == 0 {
		return ErrValueAtIncompleteKey
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.pending[string(key)] = buf
	return nil
}

// Get returns the value for key, preferring the overlay, or nil when
// the key is absent.
func (s *State) Get(key []byte) ([]byte, error) {
	if value, ok := s.pending[string(key)]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	}
	if s.root == store.SentinelRoot {
		return nil, nil
	}

	n, err := s.loadNode(s.root[:], true)
	if err != nil {
		return nil, err
	}
	for _, nb := range nibbles(key) {
		ref := n.children[nb]
		if ref == nil {
			return nil, nil
		}
		if n, err = s.loadNode(ref, false); err != nil {
			return nil, err
		}
	}
	if !n.hasValue {
		return nil, nil
	}
	out := make([]byte, len(n.value))
	copy(out, n.value)
	return out, nil
}

func (s *State) loadNode(hash []byte, isRoot bool) (*node, error) {
	raw, err := s.db.Get(hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if isRoot {
				return nil, fmt.Errorf("%w: missing root node %x", ErrInvalidStateRoot, hash)
			}
			return nil, fmt.Errorf("%w: missing node %x", ErrIncompleteDatabase, hash)
		}
		return nil, fmt.Errorf("%w: %v", ErrIncompleteDatabase, err)
	}
	sum := sha256.Sum256(raw)
	if !bytes.Equal(sum[:], hash) {
		return nil, fmt.Errorf("%w: node %x content mismatch", ErrInvalidHash, hash)
	}
	n, ok := decodeNode(raw)
	if !ok {
		return nil, fmt.Errorf("%w: node %x", ErrDecode, hash)
	}
	return n, nil
}

// mnode is a node under mutation during Commit. Children are either
// unexpanded arena references (hash set) or expanded subtrees.
type mnode struct {
	children [16]*mchild
	value    []byte
	hasValue bool
}

type mchild struct {
	hash []byte
	node *mnode
}

func (s *State) expand(hash []byte, isRoot bool) (*mnode, error) {
	n, err := s.loadNode(hash, isRoot)
	if err != nil {
		return nil, err
	}
	m := &mnode{value: n.value, hasValue: n.hasValue}
	for i, ref := range n.children {
		if ref != nil {
			m.children[i] = &mchild{hash: ref}
		}
	}
	return m, nil
}

// Commit folds the overlay into the node arena bottom-up, persists
// every new node and returns the new root. On success the State is
// reusable at the committed root with an empty overlay.
func (s *State) Commit() ([HashSize]byte, error) {
	if len(s.pending) == 0 {
		return s.root, nil
	}

	var root *mnode
	var err error
	if s.root == store.SentinelRoot {
		root = &mnode{}
	} else if root, err = s.expand(s.root[:], true); err != nil {
		return store.SentinelRoot, err
	}

	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.insertNode(root, nibbles([]byte(k)), s.pending[k]); err != nil {
			return store.SentinelRoot, err
		}
	}

	rootHash, err := s.flush(root)
	if err != nil {
		return store.SentinelRoot, err
	}
	s.root = rootHash
	s.pending = make(map[string][]byte)
	return rootHash, nil
}

func (s *State) insertNode(cur *mnode, path []byte, value []byte) error {
	for _, nb := range path {
		child := cur.children[nb]
		switch {
		case child == nil:
			next := &mnode{}
			cur.children[nb] = &mchild{node: next}
			cur = next
		case child.node != nil:
			cur = child.node
		default:
			expanded, err := s.expand(child.hash, false)
			if err != nil {
				return err
			}
			child.node = expanded
			child.hash = nil
			cur = expanded
		}
	}
	cur.value = value
	cur.hasValue = true
	return nil
}

// flush encodes and persists a mutated subtree post-order, returning
// its arena address.
func (s *State) flush(m *mnode) ([HashSize]byte, error) {
	n := &node{value: m.value, hasValue: m.hasValue}
	for i, child := range m.children {
		if child == nil {
			continue
		}
		if child.node != nil {
			hash, err := s.flush(child.node)
			if err != nil {
				return store.SentinelRoot, err
			}
			n.children[i] = hash[:]
		} else {
			n.children[i] = child.hash
		}
	}
	enc := n.encode()
	hash := hashNode(enc)
	if err := s.db.Put(hash[:], enc); err != nil {
		return store.SentinelRoot, fmt.Errorf("%w: %v", ErrIncompleteDatabase, err)
	}
	return hash, nil
}
