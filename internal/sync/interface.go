package sync

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

var (
	// ErrNotConfigured is returned when sync is attempted without an
	// active configuration. The user should be sent to setup.
	ErrNotConfigured = errors.New("sync is not configured")

	// ErrSyncInProgress is returned when a sync is requested while another
	// one is running in this process or another process. Requests are
	// rejected, not queued.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Syncer runs sync cycles between the live Library and the configured
// remote.
type Syncer interface {
	// Sync runs one full cycle: fetch, merge, persist locally, write back.
	//
	// A remote that does not exist yet is treated as empty, so the first
	// sync uploads everything. Any other fetch failure aborts the cycle
	// before local data is touched. After the merge the local collection
	// is persisted before the remote write is attempted; a failed write
	// leaves the merged local state in place.
	//
	// Nothing is retried. The returned Result is non-nil whenever the
	// cycle got past the configuration check, even on failure.
	//
	// Example:
	//   res, err := syncer.Sync(ctx)
	//   fmt.Println(sync.Message(err))
	Sync(ctx context.Context) (*Result, error)

	// Check fetches the remote once to verify reachability and
	// credentials. A remote that does not exist yet counts as reachable.
	Check(ctx context.Context) error

	// State returns the current cycle state.
	State() State
}

// State is a step of a sync cycle.
type State int

const (
	Idle State = iota
	FetchingRemote
	Merging
	PersistingLocal
	WritingRemote
)

func (s State) String() string {
	switch s {
	case FetchingRemote:
		return "fetching"
	case Merging:
		return "merging"
	case PersistingLocal:
		return "persisting"
	case WritingRemote:
		return "writing"
	default:
		return "idle"
	}
}

// Result summarizes one sync cycle.
type Result struct {
	Backend string

	// RemoteExisted is false when the remote was not found and the cycle
	// degenerated to an upload.
	RemoteExisted bool

	// Changed is true when any document was taken from the remote.
	Changed     bool
	Overwritten []string

	// Written is the number of documents sent to the remote.
	Written  int
	Revision string

	// Locator is set when the remote resource was created by this cycle.
	Locator string

	// Warnings are non-fatal problems, such as a malformed remote blob.
	Warnings []string

	// LocalSaveErr is the first local persistence failure, if any.
	LocalSaveErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the cycle took.
func (r *Result) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Observer receives state changes and completions. Calls are made
// synchronously from the syncing goroutine and must not block.
type Observer interface {
	OnState(state State)
	OnComplete(res *Result, err error)
}

// SettingsStore loads and saves the sync configuration.
type SettingsStore interface {
	LoadSyncConfig(ctx context.Context) gallery.SyncConfig
	SaveSyncConfig(ctx context.Context, cfg gallery.SyncConfig) error
}

// ClientFactory builds the remote client for a configuration.
type ClientFactory interface {
	Create(cfg gallery.SyncConfig) (remote.Client, error)
}
