package vfs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// NodeContentKind is the discriminant of the sum type a Node's content
// can hold. Node is a flat struct with this discriminant rather than a tagged interface,
// matching message.Body's deviation for the same reason: canonical,
// deterministic hashing needs flat, declaration-ordered JSON fields.
type NodeContentKind string

const (
	ContentText     NodeContentKind = "Text"
	ContentResource NodeContentKind = "Resource"
	ContentExternal NodeContentKind = "ExternalContent"
	ContentHeader   NodeContentKind = "Header"
)

// ExternalContent is a reference to content this node does not store
// directly (e.g. a URL or an external document ID).
type ExternalContent struct {
	Source string `json:"source"`
}

// VRHeader is a lightweight summary of a VectorResource, embedded in a
// Node when the full resource is addressed elsewhere.
type VRHeader struct {
	ResourceID string `json:"resource_id"`
	Name       string `json:"name"`
}

// Node is one entry of a VectorResource: an embedding-bearing unit of
// content plus whatever metadata and tags were attached at ingestion.
type Node struct {
	ID         string            `json:"id"`
	Kind       NodeContentKind   `json:"kind"`
	Text       string            `json:"text,omitempty"`
	Resource   *VectorResource   `json:"resource,omitempty"`
	External   *ExternalContent  `json:"external,omitempty"`
	Header     *VRHeader         `json:"header,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	DataTags   []string          `json:"data_tags,omitempty"`
	MerkleHash string            `json:"merkle_hash,omitempty"`
}

// contentBytes returns the canonical bytes of n's content only (not
// its merkle hash field, not its children's hashes), the leaf input to
// computeMerkle.
func (n Node) contentBytes() ([]byte, error) {
	clone := n
	clone.MerkleHash = ""
	if clone.Resource != nil {
		// The sub-resource's own merkle root stands in for its full
		// content; we do not re-serialize its node tree here.
		stub := *clone.Resource
		stub.Nodes = nil
		stub.nodeIndex = nil
		clone.Resource = &stub
	}
	return json.Marshal(clone)
}

// ResourceKind distinguishes the two concrete VectorResource shapes.
type ResourceKind string

const (
	KindDocument ResourceKind = "Document"
	KindMap      ResourceKind = "Map"
)

// VectorResource is a collection of embedding-bearing Nodes sharing one
// embedding model, with a root embedding summarizing the whole
// resource and a Merkle root over its node tree.
//
// DocumentResource nodes are ordered, IDs positional ("0", "1", ...);
// MapResource nodes are addressed by caller-chosen string keys with no
// meaningful order. Both are represented by the same struct: Kind
// governs ID assignment in AddNode, Nodes preserves insertion order
// either way (meaningful for Document, incidental for Map).
type VectorResource struct {
	ResourceID     string             `json:"resource_id"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	Source         string             `json:"source,omitempty"`
	EmbeddingModel string             `json:"embedding_model"`
	RootEmbedding  []float32          `json:"root_embedding,omitempty"`
	Kind           ResourceKind       `json:"kind"`
	Nodes          []Node             `json:"nodes"`
	EmbeddingIndex map[string][]float32 `json:"embedding_index"`
	MerkleRoot     string             `json:"merkle_root,omitempty"`

	nodeIndex map[string]int // id -> index into Nodes, rebuilt on load
}

// NewVectorResource creates an empty resource of the given kind.
func NewVectorResource(resourceID, name, embeddingModel string, kind ResourceKind) *VectorResource {
	return &VectorResource{
		ResourceID:     resourceID,
		Name:           name,
		EmbeddingModel: embeddingModel,
		Kind:           kind,
		EmbeddingIndex: make(map[string][]float32),
		nodeIndex:      make(map[string]int),
	}
}

// ErrEmbeddingModelMismatch is returned when an operation mixes
// embeddings generated by two different models.
var ErrEmbeddingModelMismatch = fmt.Errorf("vfs: embedding model mismatch")

func (r *VectorResource) ensureIndex() {
	if r.nodeIndex == nil {
		r.nodeIndex = make(map[string]int, len(r.Nodes))
		for i, n := range r.Nodes {
			r.nodeIndex[n.ID] = i
		}
	}
}

// AddNode inserts a node. For a DocumentResource, id is ignored and a
// positional ID is assigned; for a MapResource, id is the node's key
// and must be supplied. Recomputes the resource's Merkle root.
func (r *VectorResource) AddNode(id string, node Node, embedding []float32) error {
	r.ensureIndex()

	if r.Kind == KindDocument {
		id = fmt.Sprintf("%d", len(r.Nodes))
	}
	node.ID = id

	if existing, ok := r.nodeIndex[id]; ok {
		r.Nodes[existing] = node
	} else {
		r.nodeIndex[id] = len(r.Nodes)
		r.Nodes = append(r.Nodes, node)
	}
	if embedding != nil {
		r.EmbeddingIndex[id] = embedding
	}
	return r.recomputeMerkle()
}

// RemoveNode deletes the node at id, if present.
func (r *VectorResource) RemoveNode(id string) error {
	r.ensureIndex()
	idx, ok := r.nodeIndex[id]
	if !ok {
		return fmt.Errorf("vfs: node %q not found", id)
	}
	r.Nodes = append(r.Nodes[:idx], r.Nodes[idx+1:]...)
	delete(r.EmbeddingIndex, id)
	delete(r.nodeIndex, id)
	for i, n := range r.Nodes {
		r.nodeIndex[n.ID] = i
	}
	return r.recomputeMerkle()
}

// NodeByID returns the node stored at id, if any.
func (r *VectorResource) NodeByID(id string) (Node, bool) {
	r.ensureIndex()
	idx, ok := r.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return r.Nodes[idx], true
}

// merkleHash computes H(content_canonical_bytes || sorted_child_hashes).
// A Node's only "child" is its nested resource's Merkle root, if its
// content is a Resource.
func merkleHash(content []byte, childHashes []string) string {
	sorted := append([]string(nil), childHashes...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write(content)
	for _, c := range sorted {
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (n *Node) computeMerkle() error {
	var childHashes []string
	if n.Resource != nil {
		if err := n.Resource.recomputeMerkle(); err != nil {
			return err
		}
		childHashes = append(childHashes, n.Resource.MerkleRoot)
	}
	content, err := n.contentBytes()
	if err != nil {
		return fmt.Errorf("vfs: node content bytes: %w", err)
	}
	n.MerkleHash = merkleHash(content, childHashes)
	return nil
}

// recomputeMerkle recomputes every node's hash bottom-up and the
// resource's own root hash, triggered by any mutation.
func (r *VectorResource) recomputeMerkle() error {
	childHashes := make([]string, 0, len(r.Nodes))
	for i := range r.Nodes {
		if err := r.Nodes[i].computeMerkle(); err != nil {
			return err
		}
		childHashes = append(childHashes, r.Nodes[i].MerkleHash)
	}
	meta, err := json.Marshal(struct {
		ResourceID     string
		Name           string
		EmbeddingModel string
	}{r.ResourceID, r.Name, r.EmbeddingModel})
	if err != nil {
		return err
	}
	r.MerkleRoot = merkleHash(meta, childHashes)
	return nil
}

// RootMerkleHash returns r's current Merkle root.
func (r *VectorResource) RootMerkleHash() string { return r.MerkleRoot }
