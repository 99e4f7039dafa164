package depgraph

import "github.com/patchfs/fstitch/pkg/ids"

// overlapHash buckets a byte offset into one of g.cfg.NOverlap1 slots, per
// spec.md §3's overlap1 description. Bucket 0 is always additionally
// consulted by findMergeCandidate (via candidateSet) as a catch-all, matching
// spec.md §4.1's "scans overlap1[H(offset)], overlap1[0], and the
// previous patch on this bdesc".
func (g *Graph) overlapHash(offset int) uint32 {
	return uint32(offset) % g.cfg.NOverlap1
}

// candidateSet gathers every patch id worth inspecting as a merge
// candidate for a write at offset on bdesc d: the offset's own bucket,
// bucket 0, and the most recently created patch on the block.
func candidateSet(overlap1 map[uint32][]ids.PatchID, hash uint32, allPatches []ids.PatchID) []ids.PatchID {
	var out []ids.PatchID

	seen := make(map[ids.PatchID]bool)

	add := func(ps []ids.PatchID) {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	add(overlap1[hash])

	if hash != 0 {
		add(overlap1[0])
	}

	if n := len(allPatches); n > 0 {
		add(allPatches[n-1:])
	}

	return out
}
