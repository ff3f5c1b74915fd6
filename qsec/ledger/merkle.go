package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrProofFailed = errors.New("ledger: merkle proof verification failed")
	ErrIndexRange  = errors.New("ledger: block index out of range")
)

// Checkpoint commits to a prefix of the chain: the Merkle root over the
// block hashes of blocks 0..Height.
type Checkpoint struct {
	Height uint64 `json:"height"`
	Root   string `json:"root"`
}

// Proof shows that the block at Index is covered by a checkpoint.
type Proof struct {
	Index     uint64   `json:"index"`
	BlockHash string   `json:"blockHash"`
	Siblings  []string `json:"siblings"` // leaf to root
	IsLeft    []bool   `json:"isLeft"`   // sibling is the left child
}

// merkleTree is a complete binary tree stored as an array, leaves padded to
// a power of two with SHA-256("").
type merkleTree struct {
	width int
	nodes [][]byte
}

func buildMerkleTree(leaves [][]byte) *merkleTree {
	n := 1
	for n < len(leaves) {
		n *= 2
	}
	pad := sha256.Sum256(nil)
	nodes := make([][]byte, 2*n-1)
	for i := 0; i < n; i++ {
		if i < len(leaves) {
			nodes[n-1+i] = leaves[i]
		} else {
			nodes[n-1+i] = pad[:]
		}
	}
	for i := n - 2; i >= 0; i-- {
		nodes[i] = hashPair(nodes[2*i+1], nodes[2*i+2])
	}
	return &merkleTree{width: n, nodes: nodes}
}

func (m *merkleTree) root() []byte { return m.nodes[0] }

func (m *merkleTree) proof(leaf int) (siblings [][]byte, isLeft []bool) {
	idx := m.width - 1 + leaf
	for idx > 0 {
		sibling := idx + 1
		if idx%2 == 0 {
			sibling = idx - 1
		}
		siblings = append(siblings, m.nodes[sibling])
		isLeft = append(isLeft, idx%2 == 0)
		idx = (idx - 1) / 2
	}
	return siblings, isLeft
}

func hashPair(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)
	h := sha256.Sum256(buf)
	return h[:]
}

func (l *Ledger) tree() (*merkleTree, uint64, error) {
	blocks := l.Blocks()
	leaves := make([][]byte, len(blocks))
	for i, b := range blocks {
		h, err := hex.DecodeString(b.Hash)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: block %d hash is not hex", ErrChainBroken, i)
		}
		leaves[i] = h
	}
	return buildMerkleTree(leaves), blocks[len(blocks)-1].Index, nil
}

// Checkpoint returns the Merkle root over the current chain.
func (l *Ledger) Checkpoint() (Checkpoint, error) {
	t, height, err := l.tree()
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{Height: height, Root: hex.EncodeToString(t.root())}, nil
}

// Proof returns an inclusion proof for the block at index together with the
// checkpoint it verifies against.
func (l *Ledger) Proof(index uint64) (Proof, Checkpoint, error) {
	t, height, err := l.tree()
	if err != nil {
		return Proof{}, Checkpoint{}, err
	}
	if index > height {
		return Proof{}, Checkpoint{}, ErrIndexRange
	}
	blk, _ := l.Block(index)
	siblings, isLeft := t.proof(int(index))
	p := Proof{Index: index, BlockHash: blk.Hash, IsLeft: isLeft}
	for _, s := range siblings {
		p.Siblings = append(p.Siblings, hex.EncodeToString(s))
	}
	return p, Checkpoint{Height: height, Root: hex.EncodeToString(t.root())}, nil
}

// VerifyProof checks p against cp.
func VerifyProof(p Proof, cp Checkpoint) error {
	if p.Index > cp.Height || len(p.Siblings) != len(p.IsLeft) {
		return ErrProofFailed
	}
	current, err := hex.DecodeString(p.BlockHash)
	if err != nil {
		return ErrProofFailed
	}
	for i, s := range p.Siblings {
		sibling, err := hex.DecodeString(s)
		if err != nil {
			return ErrProofFailed
		}
		if p.IsLeft[i] {
			current = hashPair(sibling, current)
		} else {
			current = hashPair(current, sibling)
		}
	}
	root, err := hex.DecodeString(cp.Root)
	if err != nil || !bytes.Equal(current, root) {
		return ErrProofFailed
	}
	return nil
}
