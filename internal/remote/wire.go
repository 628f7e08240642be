package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// FormatVersion is written into every payload.
const FormatVersion = "1.0"

// Payload is the remote wire format:
//
//	{
//	  "documents": { "doc_...": { "name": ..., "images": [...], ... } },
//	  "lastSync": "2024-06-12T09:30:00Z",
//	  "version": "1.0"
//	}
type Payload struct {
	Documents gallery.Collection `json:"documents"`
	LastSync  *time.Time         `json:"lastSync,omitempty"`
	Version   string             `json:"version,omitempty"`

	// Invalid holds decoded documents that failed validation.
	Invalid gallery.Collection `json:"-"`
}

// Encode renders coll as an indented payload stamped with now.
func Encode(coll gallery.Collection, now time.Time) ([]byte, error) {
	if coll == nil {
		coll = gallery.Collection{}
	}
	now = now.UTC()
	p := Payload{
		Documents: coll,
		LastSync:  &now,
		Version:   FormatVersion,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Decode parses a payload. Documents that fail validation are moved from
// Documents to Invalid and their ids returned in dropped. Unparseable input or an unsupported
// version is reported as ErrMalformedData.
func Decode(data []byte) (p *Payload, dropped []string, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrMalformedData)
	}

	p = &Payload{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}

	if err := checkVersion(p.Version); err != nil {
		return nil, nil, err
	}

	if p.Documents == nil {
		p.Documents = gallery.Collection{}
	}
	for id, doc := range p.Documents {
		if err := doc.Validate(); err != nil {
			if p.Invalid == nil {
				p.Invalid = gallery.Collection{}
			}
			p.Invalid[id] = doc
			dropped = append(dropped, id)
			delete(p.Documents, id)
		}
	}
	sort.Strings(dropped)
	return p, dropped, nil
}

// checkVersion accepts any 1.x version. Payloads without a version predate
// the field and are read as 1.0.
func checkVersion(version string) error {
	if version == "" {
		return nil
	}
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: invalid version %q", ErrMalformedData, version)
	}
	if semver.Major(v) != "v1" {
		return fmt.Errorf("%w: unsupported version %q", ErrMalformedData, version)
	}
	return nil
}

// DecodeSnapshot decodes data into a Snapshot carrying revision. Decoding
// failures are returned as *Error of KindMalformedData for backend, together
// with an empty snapshot that still carries revision so the caller can
// overwrite the broken blob.
func DecodeSnapshot(backend Type, data []byte, revision string) (*Snapshot, error) {
	p, dropped, err := Decode(data)
	if err != nil {
		return &Snapshot{Collection: gallery.Collection{}, Revision: revision},
			NewError(backend, KindMalformedData, 0, "", err)
	}
	return &Snapshot{
		Collection: p.Documents,
		Revision:   revision,
		LastSync:   p.LastSync,
		Dropped:    dropped,
		Invalid:    p.Invalid,
	}, nil
}
