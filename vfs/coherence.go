package vfs

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/shinkai-run/shinkai-node/identity"
)

// CoherenceMismatch describes one text node whose regenerated
// embedding drifted too far from the embedding stored alongside it.
type CoherenceMismatch struct {
	ItemPath    VRPath
	NodeID      string
	Similarity  float64
}

// coherenceSimilarityFloor is the minimum cosine similarity a
// regenerated embedding must retain against its stored counterpart,
// allowing for minor embedding-model non-determinism.
const coherenceSimilarityFloor = 0.99

// sampleTextNodes walks folder's items (the caller already holds
// pf.mu.RLock) and collects every Text-kind node paired with its
// stored embedding, in a deterministic path order so sampling a
// fraction of them is reproducible across runs.
func (pf *ProfileFS) sampleTextNodes(path VRPath, folder *FSFolder, out *[]textNodeRef) {
	for _, name := range folder.ChildItems {
		itemPath := path.Push(name)
		item, ok := pf.items[itemPath.String()]
		if !ok || item.Resource == nil {
			continue
		}
		collectTextNodes(itemPath, nil, item.Resource, out)
	}
	for _, name := range folder.ChildFolders {
		childPath := path.Push(name)
		child, ok := pf.folders[childPath.String()]
		if !ok {
			continue
		}
		pf.sampleTextNodes(childPath, child, out)
	}
}

type textNodeRef struct {
	itemPath VRPath
	nodeID   string
	model    string
	text     string
	stored   []float32
}

func collectTextNodes(itemPath VRPath, nodePath []string, resource *VectorResource, out *[]textNodeRef) {
	for _, node := range resource.Nodes {
		switch {
		case node.Kind == ContentText:
			*out = append(*out, textNodeRef{
				itemPath: itemPath,
				nodeID:   node.ID,
				model:    resource.EmbeddingModel,
				text:     node.Text,
				stored:   resource.EmbeddingIndex[node.ID],
			})
		case node.Kind == ContentResource && node.Resource != nil:
			collectTextNodes(itemPath, append(append([]string(nil), nodePath...), node.ID), node.Resource, out)
		}
	}
}

// VerifyInternalEmbeddingsCoherence samples roughly percent (0-1] of
// owner's text nodes, regenerates each one's embedding with gen, and
// checks that the regenerated vector's cosine similarity against the
// stored embedding stays at or above coherenceSimilarityFloor. The
// regeneration calls themselves run on a dedicated blocking pool
// (errgroup, bounded) so the caller's own goroutine is never pinned on
// embedding-generator latency.
func (v *VFS) VerifyInternalEmbeddingsCoherence(ctx context.Context, owner, requester identity.Name, percent float64, gen EmbeddingGenerator) ([]CoherenceMismatch, error) {
	if percent <= 0 {
		return nil, nil
	}
	if percent > 1 {
		percent = 1
	}

	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.RLock()
	if err := pf.permissions.validateReadAccess(requester, RootPath()); err != nil {
		pf.mu.RUnlock()
		return nil, err
	}
	root, ok := pf.folders[RootPath().String()]
	if !ok {
		pf.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, RootPath())
	}
	var all []textNodeRef
	pf.sampleTextNodes(RootPath(), root, &all)
	pf.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].itemPath.String() != all[j].itemPath.String() {
			return all[i].itemPath.String() < all[j].itemPath.String()
		}
		return all[i].nodeID < all[j].nodeID
	})

	n := int(math.Ceil(float64(len(all)) * percent))
	if n > len(all) {
		n = len(all)
	}
	sample := all[:n]

	mismatches := make([]CoherenceMismatch, len(sample))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, ref := range sample {
		i, ref := i, ref
		g.Go(func() error {
			regenerated, err := gen.Embed(gctx, ref.model, ref.text)
			if err != nil {
				return fmt.Errorf("vfs: regenerate embedding for %s/%s: %w", ref.itemPath, ref.nodeID, err)
			}
			sim := cosineSimilarity(ref.stored, regenerated)
			mismatches[i] = CoherenceMismatch{ItemPath: ref.itemPath, NodeID: ref.nodeID, Similarity: sim}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := mismatches[:0]
	for _, m := range mismatches {
		if m.Similarity < coherenceSimilarityFloor {
			out = append(out, m)
		}
	}
	return out, nil
}
