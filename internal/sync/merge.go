package sync

import "github.com/steveyegge/docgallery/internal/gallery"

// Merge combines local and remote with per-document last-writer-wins.
//
// For every id in remote, the remote document is taken when the id is
// missing locally or its lastModified is strictly later than the local one
// (a missing timestamp counts as the oldest possible). Ties keep the local
// document. Documents only present locally are kept, so deletions are never
// propagated: a document deleted on one side reappears if the other side
// still has it.
//
// changed reports whether any document came from remote. Neither input is
// modified.
func Merge(local, remote gallery.Collection) (merged gallery.Collection, changed bool) {
	merged, overwritten := MergeReport(local, remote)
	return merged, len(overwritten) > 0
}

// MergeReport is Merge returning the sorted ids taken from remote.
func MergeReport(local, remote gallery.Collection) (gallery.Collection, []string) {
	merged := local.Clone()
	return merged, merged.Absorb(remote)
}
