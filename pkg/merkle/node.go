// Package merkle is an implementation of a Merkle DAG of conversation messages.
// Identical message histories hash to identical nodes, so recorded transcripts
// deduplicate automatically and divergent replies branch from their common prefix.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Bucket is the hashable content of a node: one message of a transcript.
type Bucket struct {
	Type      string `json:"type"` // "message"
	Role      string `json:"role"`
	Content   string `json:"content"`
	Assistant string `json:"assistant,omitempty"`
}

// Node represents a single content-addressed node in a Merkle DAG
type Node struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous node hash.
	// This will be nil for root nodes.
	ParentHash *string `json:"parent_hash"`

	// Bucket is the hashable content for the node
	Bucket Bucket `json:"bucket"`
}

type input struct {
	Bucket Bucket `json:"bucket"`
	Parent string `json:"parent,omitempty"`
}

// NewNode creates a new node with the computed hash for the provided bucket
func NewNode(bucket Bucket, parent *Node) *Node {
	n := &Node{
		Bucket: bucket,
	}

	if parent != nil {
		h := parent.Hash
		n.ParentHash = &h
	}

	n.Hash = n.computeHash()
	return n
}

// computeHash calculates the content-addressed hash for a node
func (n *Node) computeHash() string {
	i := &input{
		Bucket: n.Bucket,
	}

	if n.ParentHash != nil {
		i.Parent = *n.ParentHash
	}

	// Struct field order makes the encoding canonical
	data, err := json.Marshal(i)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
