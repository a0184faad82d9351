package vfs

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shinkai-run/shinkai-node/identity"
)

// TraversalMethod controls how vector_search descends into nodes
// whose content is itself a VectorResource.
type TraversalMethod string

const (
	// Efficient scores a Resource-kind node using its own root
	// embedding and does not descend into its internal nodes.
	Efficient TraversalMethod = "Efficient"
	// Exhaustive recurses into a Resource-kind node's internal nodes,
	// propagating the parent's score via the configured ScoringMode.
	Exhaustive TraversalMethod = "Exhaustive"
)

// ScoringMode controls how a descendant's raw cosine score is combined
// with its ancestors' scores.
type ScoringMode string

const (
	ScoringBasic                   ScoringMode = "Basic"
	ScoringHierarchicalAverage     ScoringMode = "HierarchicalAverageScoring"
)

// PrefilterMode restricts the candidate node set before scoring.
type PrefilterMode struct {
	SyntacticDataTags []string // non-nil activates SyntacticVectorSearch(tags)
}

// FilterMode restricts candidate nodes by metadata key/value pairs
// after prefiltering, per node.
type FilterMode struct {
	ContainsAny  map[string]*string // nil value matches any value present for the key
	ContainsAll  map[string]*string
}

// ResultsMode controls post-ranking result expansion.
type ResultsMode struct {
	ProximityWindow int // 0 disables ProximitySearch
	ProximityTopN   int
}

// SearchOptions aggregates every vector_search knob.
type SearchOptions struct {
	UntilDepth             int // applies only when HasUntilDepth is set; otherwise depth is unlimited
	HasUntilDepth          bool
	MinimumScore           float64
	HasMinimumScore        bool
	ToleranceRangeResults  float64
	HasToleranceRange      bool
	ScoringMode            ScoringMode
	Prefilter              PrefilterMode
	Filter                 FilterMode
	Results                ResultsMode
}

// SearchResult is one retrieved node: its location (item path plus the
// chain of node IDs descended into the item's resource), its content,
// and its final score. ProximityGroupID is set only when
// ResultsMode.ProximityWindow expanded this result's neighborhood; it
// is shared by every result in the same window.
type SearchResult struct {
	ItemPath          VRPath
	NodePath          []string
	Node              Node
	Score             float64
	ProximityGroupID  string

	// resource and index locate Node within its owning VectorResource's
	// Nodes slice, so finalizeResults can pull preceding/following
	// siblings for ProximitySearch without re-walking the filesystem.
	// Unset for results built outside collectResource (e.g. by tests).
	resource *VectorResource
	index    int
}

// retrievalPath renders a result's full, lexicographically comparable
// location for deterministic tie-breaking.
func (r SearchResult) retrievalPath() string {
	p := r.ItemPath.String()
	for _, id := range r.NodePath {
		p += ">" + id
	}
	return p
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// VectorSearch performs semantic search: starting from startingPath
// (root if empty), descend folders and items, scoring every
// embedding-bearing node, and return the top k after applying options.
func (v *VFS) VectorSearch(ctx context.Context, owner, requester identity.Name, query []float32, k int, method TraversalMethod, opts SearchOptions, startingPath VRPath) ([]SearchResult, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.RLock()
	defer pf.mu.RUnlock()

	if err := pf.permissions.validateReadAccess(requester, startingPath); err != nil {
		return nil, err
	}
	folder, ok := pf.folders[startingPath.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, startingPath)
	}

	var candidates []SearchResult
	pf.collectFolder(requester, folder, startingPath, query, method, opts, 0, nil, &candidates)

	return finalizeResults(candidates, k, opts, func(*VectorResource) []float32 { return query }), nil
}

// collectFolder scores every item directly under folder (skipping
// subtrees the requester cannot read) and recurses into child folders.
// Folders themselves are structural and are never scored.
func (pf *ProfileFS) collectFolder(requester identity.Name, folder *FSFolder, path VRPath, query []float32, method TraversalMethod, opts SearchOptions, depth int, ancestorScores []float64, out *[]SearchResult) {
	if opts.HasUntilDepth && depth > opts.UntilDepth {
		return
	}

	for _, name := range folder.ChildItems {
		itemPath := path.Push(name)
		if pf.permissions.validateReadAccess(requester, itemPath) != nil {
			continue
		}
		item, ok := pf.items[itemPath.String()]
		if !ok || item.Resource == nil {
			continue
		}
		pf.collectResource(item, itemPath, nil, item.Resource, query, method, opts, depth+1, ancestorScores, out)
	}

	if opts.HasUntilDepth && depth+1 > opts.UntilDepth {
		return
	}
	for _, name := range folder.ChildFolders {
		childPath := path.Push(name)
		if pf.permissions.validateReadAccess(requester, childPath) != nil {
			continue
		}
		child, ok := pf.folders[childPath.String()]
		if !ok {
			continue
		}
		pf.collectFolder(requester, child, childPath, query, method, opts, depth+1, ancestorScores, out)
	}
}

// collectResource scores resource's direct nodes and, for
// Resource-kind nodes under Exhaustive, recurses into them.
func (pf *ProfileFS) collectResource(item *FSItem, itemPath VRPath, nodePath []string, resource *VectorResource, query []float32, method TraversalMethod, opts SearchOptions, depth int, ancestorScores []float64, out *[]SearchResult) {
	if opts.HasUntilDepth && depth > opts.UntilDepth {
		return
	}

	for i, node := range resource.Nodes {
		if !passesPrefilter(node, opts.Prefilter) {
			continue
		}
		if !passesFilter(node, opts.Filter) {
			continue
		}

		embedding := resource.EmbeddingIndex[node.ID]
		raw := cosineSimilarity(query, embedding)

		if node.Kind == ContentResource && node.Resource != nil {
			switch method {
			case Exhaustive:
				nextAncestors := append(append([]float64(nil), ancestorScores...), raw)
				childPath := append(append([]string(nil), nodePath...), node.ID)
				pf.collectResource(item, itemPath, childPath, node.Resource, query, method, opts, depth+1, nextAncestors, out)
				continue
			default: // Efficient: score the sub-resource's own root embedding, no descent
				raw = cosineSimilarity(query, node.Resource.RootEmbedding)
			}
		}

		score := combineScore(raw, ancestorScores, opts.ScoringMode)
		path := append(append([]string(nil), nodePath...), node.ID)
		*out = append(*out, SearchResult{
			ItemPath: itemPath,
			NodePath: path,
			Node:     node,
			Score:    score,
			resource: resource,
			index:    i,
		})
	}
}

// combineScore applies the HierarchicalAverageScoring rule:
// final = child*0.8 + mean(ancestors)*0.2, floored at the child's own
// natural score so ancestor context never pulls a strong match down.
func combineScore(raw float64, ancestorScores []float64, mode ScoringMode) float64 {
	if mode != ScoringHierarchicalAverage || len(ancestorScores) == 0 {
		return raw
	}
	var sum float64
	for _, s := range ancestorScores {
		sum += s
	}
	mean := sum / float64(len(ancestorScores))
	combined := raw*0.8 + mean*0.2
	if combined < raw {
		return raw
	}
	return combined
}

func passesPrefilter(node Node, mode PrefilterMode) bool {
	if len(mode.SyntacticDataTags) == 0 {
		return true
	}
	for _, want := range mode.SyntacticDataTags {
		for _, have := range node.DataTags {
			if want == have {
				return true
			}
		}
	}
	return false
}

func passesFilter(node Node, mode FilterMode) bool {
	if len(mode.ContainsAny) > 0 && !matchAny(node, mode.ContainsAny) {
		return false
	}
	if len(mode.ContainsAll) > 0 && !matchAll(node, mode.ContainsAll) {
		return false
	}
	return true
}

func matchAny(node Node, pairs map[string]*string) bool {
	for k, v := range pairs {
		have, ok := node.Metadata[k]
		if !ok {
			continue
		}
		if v == nil || have == *v {
			return true
		}
	}
	return false
}

func matchAll(node Node, pairs map[string]*string) bool {
	for k, v := range pairs {
		have, ok := node.Metadata[k]
		if !ok {
			return false
		}
		if v != nil && have != *v {
			return false
		}
	}
	return true
}

// finalizeResults sorts by score descending (lexicographic retrieval
// path as the deterministic tiebreak), applies MinimumScore /
// ToleranceRangeResults, truncates to k, and expands ProximitySearch.
// queryFor resolves the query embedding to score a proximity
// neighbor's own similarity against (the literal query for
// VectorSearch; the per-model regenerated embedding already cached
// for DynamicVectorSearch).
func finalizeResults(candidates []SearchResult, k int, opts SearchOptions, queryFor func(*VectorResource) []float32) []SearchResult {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].retrievalPath() < candidates[j].retrievalPath()
	})

	if opts.HasMinimumScore {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.Score >= opts.MinimumScore {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	if k > 0 && k < len(candidates) {
		candidates = candidates[:k]
	}

	if opts.HasToleranceRange && len(candidates) > 0 {
		top := candidates[0].Score
		filtered := candidates[:0]
		for _, c := range candidates {
			if top-c.Score <= opts.ToleranceRangeResults {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	if opts.Results.ProximityWindow > 0 {
		candidates = expandProximity(candidates, opts.Results.ProximityWindow, opts.Results.ProximityTopN, queryFor)
	}

	return candidates
}

// expandProximity implements SetResultsMode(ProximitySearch(window,
// topN)): for each of the first topN results (results is already
// ranked, so these are the top_n highest-scoring matches), also
// returns the window preceding and following siblings within the same
// VectorResource, all sharing one proximity_group_id. A sibling
// already present — either one of the ranked results or a neighbor
// pulled in by an earlier, higher-ranked group — is not duplicated;
// the first (higher-ranked) copy wins, which is what keeps a ranked
// result's own score intact even when it is also someone else's
// neighbor.
func expandProximity(results []SearchResult, window, topN int, queryFor func(*VectorResource) []float32) []SearchResult {
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}

	seen := make(map[string]bool, len(results))
	out := make([]SearchResult, 0, len(results))

	add := func(r SearchResult) {
		key := r.retrievalPath()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, r)
	}

	// Every top-n result's own entry is added before any neighbor
	// expansion runs, so a node that is both one of the ranked results
	// and a lower-ranked group's neighbor always keeps its own ranked
	// score: the dedup race can only be won by a neighbor computation
	// if it runs second.
	for i := 0; i < topN; i++ {
		top := results[i]
		top.ProximityGroupID = fmt.Sprintf("proximity-%d", i)
		add(top)
	}

	for i := 0; i < topN; i++ {
		top := results[i]
		if top.resource == nil {
			continue
		}
		groupID := fmt.Sprintf("proximity-%d", i)

		query := queryFor(top.resource)
		for d := 1; d <= window; d++ {
			for _, idx := range [2]int{top.index - d, top.index + d} {
				if idx < 0 || idx >= len(top.resource.Nodes) {
					continue
				}
				node := top.resource.Nodes[idx]
				score := top.Score
				if query != nil {
					score = cosineSimilarity(query, top.resource.EmbeddingIndex[node.ID])
				}
				add(SearchResult{
					ItemPath:         top.ItemPath,
					NodePath:         siblingNodePath(top.NodePath, node.ID),
					Node:             node,
					Score:            score,
					ProximityGroupID: groupID,
					resource:         top.resource,
					index:            idx,
				})
			}
		}
	}

	for i := topN; i < len(results); i++ {
		add(results[i])
	}

	return out
}

// siblingNodePath swaps the last element of a result's NodePath (its
// own node id) for a sibling's, keeping the ancestor chain that
// located the owning resource intact.
func siblingNodePath(path []string, siblingID string) []string {
	if len(path) == 0 {
		return []string{siblingID}
	}
	out := append([]string(nil), path[:len(path)-1]...)
	return append(out, siblingID)
}

// EmbeddingGenerator regenerates an embedding for text in a named
// model, the capability dynamic_vector_search uses when it crosses
// into a resource built with a different embedding model than the
// query was first generated for.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// DynamicVectorSearch is vector_search's text-query counterpart: it
// generates the query embedding per encountered embedding model
// instead of assuming one model for the whole traversal. Dynamic
// searches are always Exhaustive. startingPath scopes the traversal
// the same way VectorSearch's startingPath does (root if the zero
// VRPath), so a caller holding a job_scope of several paths can
// restrict retrieval to each in turn.
func (v *VFS) DynamicVectorSearch(ctx context.Context, owner, requester identity.Name, queryText string, k int, opts SearchOptions, startingPath VRPath, gen EmbeddingGenerator) ([]SearchResult, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.RLock()
	defer pf.mu.RUnlock()

	if err := pf.permissions.validateReadAccess(requester, startingPath); err != nil {
		return nil, err
	}
	folder, ok := pf.folders[startingPath.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, startingPath)
	}

	modelEmbeddings := make(map[string][]float32)
	var candidates []SearchResult
	if err := pf.collectFolderDynamic(ctx, requester, folder, startingPath, queryText, opts, 0, nil, modelEmbeddings, gen, &candidates); err != nil {
		return nil, err
	}
	return finalizeResults(candidates, k, opts, func(r *VectorResource) []float32 { return modelEmbeddings[r.EmbeddingModel] }), nil
}

func (pf *ProfileFS) collectFolderDynamic(ctx context.Context, requester identity.Name, folder *FSFolder, path VRPath, queryText string, opts SearchOptions, depth int, ancestorScores []float64, modelEmbeddings map[string][]float32, gen EmbeddingGenerator, out *[]SearchResult) error {
	for _, name := range folder.ChildItems {
		itemPath := path.Push(name)
		if pf.permissions.validateReadAccess(requester, itemPath) != nil {
			continue
		}
		item, ok := pf.items[itemPath.String()]
		if !ok || item.Resource == nil {
			continue
		}
		query, err := embeddingFor(ctx, item.Resource.EmbeddingModel, queryText, modelEmbeddings, gen)
		if err != nil {
			return err
		}
		if err := pf.collectResourceDynamic(ctx, item, itemPath, nil, item.Resource, queryText, query, opts, depth+1, ancestorScores, modelEmbeddings, gen, out); err != nil {
			return err
		}
	}
	for _, name := range folder.ChildFolders {
		childPath := path.Push(name)
		if pf.permissions.validateReadAccess(requester, childPath) != nil {
			continue
		}
		child, ok := pf.folders[childPath.String()]
		if !ok {
			continue
		}
		if err := pf.collectFolderDynamic(ctx, requester, child, childPath, queryText, opts, depth+1, ancestorScores, modelEmbeddings, gen, out); err != nil {
			return err
		}
	}
	return nil
}

func (pf *ProfileFS) collectResourceDynamic(ctx context.Context, item *FSItem, itemPath VRPath, nodePath []string, resource *VectorResource, queryText string, query []float32, opts SearchOptions, depth int, ancestorScores []float64, modelEmbeddings map[string][]float32, gen EmbeddingGenerator, out *[]SearchResult) error {
	for i, node := range resource.Nodes {
		if !passesPrefilter(node, opts.Prefilter) || !passesFilter(node, opts.Filter) {
			continue
		}
		embedding := resource.EmbeddingIndex[node.ID]
		raw := cosineSimilarity(query, embedding)

		if node.Kind == ContentResource && node.Resource != nil {
			childQuery := query
			if node.Resource.EmbeddingModel != resource.EmbeddingModel {
				var err error
				childQuery, err = embeddingFor(ctx, node.Resource.EmbeddingModel, queryText, modelEmbeddings, gen)
				if err != nil {
					return err
				}
			}
			nextAncestors := append(append([]float64(nil), ancestorScores...), raw)
			childPath := append(append([]string(nil), nodePath...), node.ID)
			if err := pf.collectResourceDynamic(ctx, item, itemPath, childPath, node.Resource, queryText, childQuery, opts, depth+1, nextAncestors, modelEmbeddings, gen, out); err != nil {
				return err
			}
			continue
		}

		score := combineScore(raw, ancestorScores, opts.ScoringMode)
		path := append(append([]string(nil), nodePath...), node.ID)
		*out = append(*out, SearchResult{ItemPath: itemPath, NodePath: path, Node: node, Score: score, resource: resource, index: i})
	}
	return nil
}

func embeddingFor(ctx context.Context, model, text string, cache map[string][]float32, gen EmbeddingGenerator) ([]float32, error) {
	if e, ok := cache[model]; ok {
		return e, nil
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: no embedding generator configured for model %q", ErrEmbeddingModelMismatch, model)
	}
	e, err := gen.Embed(ctx, model, text)
	if err != nil {
		return nil, fmt.Errorf("vfs: generate embedding for model %q: %w", model, err)
	}
	cache[model] = e
	return e, nil
}
