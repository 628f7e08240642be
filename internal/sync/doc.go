// Package sync merges the local document collection with a remote snapshot.
//
// # Overview
//
// A sync cycle moves through fixed states:
//
//	Idle → FetchingRemote → Merging → PersistingLocal → WritingRemote → Idle
//
// Any failure returns to Idle with the error; nothing is retried.
//
//	remote.Client.Fetch ──► Merge(live, remote) ──► Library.Persist
//	                                                      │
//	      SyncConfig.lastSyncAt ◄── Library.Stamp ◄── remote.Client.Write
//
// # Merge Rules
//
// Merge is last-writer-wins per document, compared on lastModified with a
// missing timestamp treated as the oldest possible. Local wins ties.
// Deletions are not propagated.
//
// # Usage
//
//	s := sync.New(lib, st, factory, sync.WithLogger(logger))
//	res, err := s.Sync(ctx)
//	fmt.Println(sync.Message(err))
//
// # Concurrency
//
// One cycle runs at a time. A second request gets ErrSyncInProgress, both
// within a process (mutex) and across processes when WithLockFile is set
// (flock). Edits made through the Library during a cycle are merged, not
// overwritten: the merge runs against the live collection under its lock,
// and timestamps applied after a successful write never move a document's
// lastModified backwards.
package sync
