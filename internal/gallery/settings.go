package gallery

import (
	"fmt"
	"time"
)

// SyncConfig is the persisted sync setup.
//
// It starts empty and inactive, changes only through explicit setup and
// teardown, and is saved after every change.
type SyncConfig struct {
	Active bool `json:"active"`

	// Backend selects the remote store variant (github, gist, code, s3, redis).
	Backend string `json:"backend,omitempty"`

	// Credential is an opaque bearer secret. Empty is valid for anonymous
	// read-only backends.
	Credential string `json:"credential,omitempty"`

	// Locator identifies the remote resource; its format depends on Backend.
	Locator string `json:"locator,omitempty"`

	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// Configured reports whether a sync may be attempted.
func (s *SyncConfig) Configured() bool {
	return s != nil && s.Active && s.Backend != ""
}

// MarkSynced records t as the last successful sync.
func (s *SyncConfig) MarkSynced(t time.Time) {
	t = t.UTC()
	s.LastSyncAt = &t
}

// Reset clears the configuration back to its first-run state.
func (s *SyncConfig) Reset() {
	*s = SyncConfig{}
}

// Redacted returns a copy safe to print, with the credential masked.
func (s SyncConfig) Redacted() SyncConfig {
	if s.Credential != "" {
		s.Credential = redact(s.Credential)
	}
	return s
}

func redact(secret string) string {
	if len(secret) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s…%s", secret[:4], secret[len(secret)-2:])
}
