package sync

import (
	"errors"
	"fmt"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

// Message turns a Sync or Check error into one line for the user. The
// detailed error is logged separately by the syncer.
func Message(err error) string {
	if err == nil {
		return "Sync completed successfully"
	}

	switch {
	case errors.Is(err, ErrNotConfigured):
		return "Sync is not configured. Run 'dg sync setup' first."
	case errors.Is(err, ErrSyncInProgress):
		return "A sync is already running"
	case errors.Is(err, remote.ErrInvalidLocator),
		errors.Is(err, remote.ErrUnknownBackend),
		errors.Is(err, gallery.ErrValidation):
		return fmt.Sprintf("Sync settings are invalid: %v", err)
	}

	var re *remote.Error
	if !errors.As(err, &re) {
		return fmt.Sprintf("Sync failed: %v", err)
	}

	switch re.Kind {
	case remote.KindUnauthorized:
		return "Sync failed: the remote rejected the credentials. Check your token and its permissions."
	case remote.KindConflict:
		return "Sync failed: the remote changed since it was fetched. Sync again to merge the newer data."
	case remote.KindRateLimited:
		return "Sync failed: the remote rate limit was reached. Try again later."
	case remote.KindNetwork:
		return "Sync failed: the remote could not be reached. Check your connection."
	case remote.KindNotFound:
		return "Sync failed: the remote location does not exist. Check the repository, gist, bucket or key."
	case remote.KindMalformedResponse:
		if re.Status != 0 {
			return fmt.Sprintf("Sync failed: unexpected response from the remote (HTTP %d).", re.Status)
		}
		return "Sync failed: unexpected response from the remote."
	case remote.KindMalformedData:
		return "Sync failed: the remote data could not be read."
	}
	if re.Status != 0 {
		return fmt.Sprintf("Sync failed: the remote returned HTTP %d.", re.Status)
	}
	return fmt.Sprintf("Sync failed: %v", err)
}
