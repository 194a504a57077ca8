package merkle_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/lmchat/pkg/merkle"
)

// storerBehaviour runs the Storer contract against the storer built by newStorer.
func storerBehaviour(newStorer func() merkle.Storer) {
	var (
		storer merkle.Storer
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		storer = newStorer()
	})

	AfterEach(func() {
		Expect(storer.Close()).To(Succeed())
	})

	put := func(nodes ...*merkle.Node) {
		for _, n := range nodes {
			_, err := storer.Put(ctx, n)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	Describe("Put and Get", func() {
		It("stores and retrieves a node", func() {
			node := merkle.NewNode(message("user", "test content"), nil)

			isNew, err := storer.Put(ctx, node)
			Expect(err).NotTo(HaveOccurred())
			Expect(isNew).To(BeTrue())

			retrieved, err := storer.Get(ctx, node.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.Hash).To(Equal(node.Hash))
			Expect(retrieved.Bucket).To(Equal(node.Bucket))
			Expect(retrieved.ParentHash).To(BeNil())
		})

		It("stores and retrieves a node with parent", func() {
			parent := merkle.NewNode(message("user", "parent"), nil)
			child := merkle.NewNode(message("assistant", "child"), parent)
			put(parent, child)

			retrieved, err := storer.Get(ctx, child.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.ParentHash).NotTo(BeNil())
			Expect(*retrieved.ParentHash).To(Equal(parent.Hash))
		})

		It("returns ErrNotFound for non-existent hash", func() {
			_, err := storer.Get(ctx, "nonexistent")
			Expect(err).To(BeAssignableToTypeOf(merkle.ErrNotFound{}))
			Expect(err).To(MatchError("node not found: nonexistent"))
		})

		It("is idempotent for duplicate puts", func() {
			node := merkle.NewNode(message("user", "test"), nil)
			put(node)

			isNew, err := storer.Put(ctx, node)
			Expect(err).NotTo(HaveOccurred())
			Expect(isNew).To(BeFalse())

			nodes, err := storer.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(1))
		})

		It("rejects nil nodes", func() {
			_, err := storer.Put(ctx, nil)
			Expect(err).To(MatchError(ContainSubstring("nil node")))
		})
	})

	Describe("Has", func() {
		It("reports existing and missing nodes", func() {
			node := merkle.NewNode(message("user", "test"), nil)
			put(node)

			Expect(storer.Has(ctx, node.Hash)).To(BeTrue())
			Expect(storer.Has(ctx, "nonexistent")).To(BeFalse())
		})
	})

	Describe("traversal", func() {
		var root, answer1, answer2, followUp *merkle.Node

		BeforeEach(func() {
			root = merkle.NewNode(message("user", "What is 2+2?"), nil)
			answer1 = merkle.NewNode(message("assistant", "4"), root)
			answer2 = merkle.NewNode(message("assistant", "Four!"), root)
			followUp = merkle.NewNode(message("user", "And 3+3?"), answer1)
			put(root, answer1, answer2, followUp)
		})

		It("lists every node in insertion order", func() {
			nodes, err := storer.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(4))
			Expect(nodes[0].Hash).To(Equal(root.Hash))
			Expect(nodes[3].Hash).To(Equal(followUp.Hash))
		})

		It("finds children of a parent", func() {
			children, err := storer.GetByParent(ctx, &root.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(children).To(HaveLen(2))
		})

		It("finds roots and leaves", func() {
			roots, err := storer.Roots(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(roots).To(HaveLen(1))
			Expect(roots[0].Hash).To(Equal(root.Hash))

			leaves, err := storer.Leaves(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(leaves).To(HaveLen(2))
			Expect([]string{leaves[0].Hash, leaves[1].Hash}).To(ConsistOf(answer2.Hash, followUp.Hash))
		})

		It("returns the path from a node to its root", func() {
			path, err := storer.Ancestry(ctx, followUp.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(HaveLen(3))
			Expect(path[0].Bucket.Content).To(Equal("And 3+3?"))
			Expect(path[1].Bucket.Content).To(Equal("4"))
			Expect(path[2].Bucket.Content).To(Equal("What is 2+2?"))
		})

		It("fails ancestry for an unknown hash", func() {
			_, err := storer.Ancestry(ctx, "nonexistent")
			Expect(err).To(BeAssignableToTypeOf(merkle.ErrNotFound{}))
		})
	})

	It("returns an empty slice for an empty store", func() {
		nodes, err := storer.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(BeEmpty())
	})
}

var _ = Describe("MemoryStorer", func() {
	storerBehaviour(func() merkle.Storer { return merkle.NewMemoryStorer() })
})

var _ = Describe("SQLiteStorer", func() {
	storerBehaviour(func() merkle.Storer {
		s, err := merkle.NewSQLiteStorer(":memory:")
		Expect(err).NotTo(HaveOccurred())
		return s
	})

	It("creates a storer with file database", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

		s, err := merkle.NewSQLiteStorer(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		_, err = os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("persists nodes across reopen", func() {
		ctx := context.Background()
		dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")
		node := merkle.NewNode(message("user", "persisted"), nil)

		s, err := merkle.NewSQLiteStorer(dbPath)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Put(ctx, node)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		s, err = merkle.NewSQLiteStorer(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		Expect(s.Has(ctx, node.Hash)).To(BeTrue())
	})
})
