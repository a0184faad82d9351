package vfs

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinkai-run/shinkai-node/identity"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity(nil, []float32{1, 0, 0}))
}

// buildAnimalsResource mirrors the "dogs bark" scenario: a resource
// with an unrelated node and a much closer match, so exhaustive search
// surfaces the closer node first regardless of its depth.
func buildAnimalsResource() *VectorResource {
	r := NewVectorResource("res-animals", "animals", "test-model", KindDocument)
	_ = r.AddNode("", Node{Kind: ContentText, Text: "cats purr"}, []float32{0, 1, 0})
	_ = r.AddNode("", Node{Kind: ContentText, Text: "dogs bark"}, []float32{1, 0, 0})

	nested := NewVectorResource("res-fruit", "fruit", "test-model", KindDocument)
	_ = nested.AddNode("", Node{Kind: ContentText, Text: "apples are sweet"}, []float32{0, 0, 1})
	_ = r.AddNode("", Node{Kind: ContentResource, Resource: nested}, []float32{0, 0.1, 0.9})

	return r
}

func setupSearchVFS(t *testing.T) (*VFS, identity.Name, VRPath) {
	t.Helper()
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	folder, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, folder.Path, "animals", buildAnimalsResource(), nil)
	require.NoError(t, err)

	return v, owner, folder.Path
}

func TestVectorSearchFindsClosestMatch(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	folder, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, folder.Path, "animals", buildAnimalsResource(), nil)
	require.NoError(t, err)

	results, err := v.VectorSearch(ctx, owner, owner, []float32{1, 0, 0}, 1, Exhaustive, SearchOptions{ScoringMode: ScoringHierarchicalAverage}, RootPath())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "dogs bark", results[0].Node.Text)
}

func TestVectorSearchEfficientDoesNotDescend(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	folder, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, folder.Path, "animals", buildAnimalsResource(), nil)
	require.NoError(t, err)

	results, err := v.VectorSearch(ctx, owner, owner, []float32{0, 0, 1}, 5, Efficient, SearchOptions{}, RootPath())
	require.NoError(t, err)
	for _, r := range results {
		assert.Len(t, r.NodePath, 1, "efficient traversal must not descend into a nested resource's own nodes")
	}
}

func TestVectorSearchExhaustiveDescendsIntoNestedResource(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	folder, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, folder.Path, "animals", buildAnimalsResource(), nil)
	require.NoError(t, err)

	results, err := v.VectorSearch(ctx, owner, owner, []float32{0, 0, 1}, 1, Exhaustive, SearchOptions{ScoringMode: ScoringHierarchicalAverage}, RootPath())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "apples are sweet", results[0].Node.Text)
	assert.Len(t, results[0].NodePath, 2, "nested match should carry both the outer and inner node id")
}

func TestVectorSearchHierarchicalScoringNeverLowersMatch(t *testing.T) {
	// a perfect child match blended with a weak ancestor score must
	// never score below the child's own raw similarity.
	raw := 1.0
	ancestors := []float64{0.0}
	combined := combineScore(raw, ancestors, ScoringHierarchicalAverage)
	assert.GreaterOrEqual(t, combined, raw-1e-9)
}

func TestVectorSearchDeniesUnauthorizedRequester(t *testing.T) {
	v, owner, path := setupSearchVFS(t)
	bob := mustName(t, "node.shinkai/bob")

	_, err := v.VectorSearch(context.Background(), owner, bob, []float32{1, 0, 0}, 1, Exhaustive, SearchOptions{}, path)
	assert.ErrorIs(t, err, ErrInvalidReadPermission)
}

func TestDynamicVectorSearchRegeneratesPerModel(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	_, err := v.SaveItem(ctx, owner, owner, RootPath(), "animals", buildAnimalsResource(), nil)
	require.NoError(t, err)

	gen := fakeEmbeddingGenerator{embeddings: map[string][]float32{
		"test-model": {1, 0, 0},
	}}

	results, err := v.DynamicVectorSearch(ctx, owner, owner, "dogs bark", 1, SearchOptions{ScoringMode: ScoringHierarchicalAverage}, RootPath(), gen)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "dogs bark", results[0].Node.Text)
}

type fakeEmbeddingGenerator struct {
	embeddings map[string][]float32
}

func (g fakeEmbeddingGenerator) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return g.embeddings[model], nil
}

// oneHot builds a dim-length embedding with a 1 at pos, zero elsewhere,
// so two distinct positions are always orthogonal (cosine 0) and a
// position matched against itself is always cosine 1.
func oneHot(dim, pos int) []float32 {
	v := make([]float32, dim)
	v[pos] = 1
	return v
}

func buildProximityResource(n int) *VectorResource {
	r := NewVectorResource("res-prox", "prox", "test-model", KindDocument)
	for i := 0; i < n; i++ {
		_ = r.AddNode("", Node{Kind: ContentText, Text: fmt.Sprintf("node-%d", i)}, oneHot(n, i))
	}
	return r
}

func TestVectorSearchProximitySearchReturnsWindowAndSharesGroupID(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	_, err := v.SaveItem(ctx, owner, owner, RootPath(), "prox", buildProximityResource(5), nil)
	require.NoError(t, err)

	opts := SearchOptions{Results: ResultsMode{ProximityWindow: 1, ProximityTopN: 1}}
	results, err := v.VectorSearch(ctx, owner, owner, oneHot(5, 2), 1, Exhaustive, opts, RootPath())
	require.NoError(t, err)

	require.Len(t, results, 3, "window=1 around one top result must return 3 nodes: itself plus one sibling each side")
	assert.Equal(t, "node-2", results[0].Node.Text)
	assert.Equal(t, "node-1", results[1].Node.Text)
	assert.Equal(t, "node-3", results[2].Node.Text)

	for _, r := range results {
		assert.Equal(t, "proximity-0", r.ProximityGroupID)
	}
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "the ranked top result's own score must survive expansion")
}

func TestVectorSearchProximitySearchStopsAtResourceBoundary(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	_, err := v.SaveItem(ctx, owner, owner, RootPath(), "prox", buildProximityResource(3), nil)
	require.NoError(t, err)

	opts := SearchOptions{Results: ResultsMode{ProximityWindow: 5, ProximityTopN: 1}}
	results, err := v.VectorSearch(ctx, owner, owner, oneHot(3, 0), 1, Exhaustive, opts, RootPath())
	require.NoError(t, err)

	assert.Len(t, results, 3, "a window wider than the resource must clamp to the resource's own node count, not error or wrap")
}

func TestExpandProximityDeduplicatesAndPreservesHierarchicalScore(t *testing.T) {
	// Two adjacent top results whose *ranked* scores come from
	// HierarchicalAverageScoring (blended with an ancestor score), so
	// they differ from the raw cosine similarity expandProximity would
	// otherwise compute when visiting one as the other's neighbor.
	resource := buildProximityResource(5)
	itemPath := RootPath().Push("docs").Push("prox")
	query := oneHot(5, 2)

	top1 := SearchResult{ItemPath: itemPath, NodePath: []string{resource.Nodes[2].ID}, Node: resource.Nodes[2], Score: 0.91, resource: resource, index: 2}
	top2 := SearchResult{ItemPath: itemPath, NodePath: []string{resource.Nodes[3].ID}, Node: resource.Nodes[3], Score: 0.34, resource: resource, index: 3}

	out := expandProximity([]SearchResult{top1, top2}, 1, 2, func(*VectorResource) []float32 { return query })

	byText := make(map[string]SearchResult)
	for _, r := range out {
		if _, dup := byText[r.Node.Text]; dup {
			t.Fatalf("duplicate result for %q in proximity expansion", r.Node.Text)
		}
		byText[r.Node.Text] = r
	}

	// node-2 is top1's own ranked result; node-3 is top2's. Each must be
	// reported with the pre-expansion ranked score it already had, not
	// the raw cosine similarity a neighbor lookup would recompute.
	assert.InDelta(t, 0.91, byText["node-2"].Score, 1e-9)
	assert.InDelta(t, 0.34, byText["node-3"].Score, 1e-9)
	assert.Equal(t, "proximity-0", byText["node-2"].ProximityGroupID)
	assert.Equal(t, "proximity-1", byText["node-4"].ProximityGroupID, "node-4 is only reachable as top2's neighbor")
}
