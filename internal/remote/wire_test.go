package remote

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/docgallery/internal/gallery"
)

func sampleCollection(t *testing.T) gallery.Collection {
	t.Helper()
	c := gallery.Collection{}
	doc, err := c.Create("Trip", time.Date(2024, 6, 10, 7, 59, 12, 0, time.UTC))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err = c.AppendImages(doc.ID, gallery.ImageRecord{
		Name:       "beach.png",
		Content:    "data:image/png;base64,iVBORw0KGgo=",
		UploadedAt: time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC),
		SizeBytes:  8,
		MimeType:   "image/png",
	})
	if err != nil {
		t.Fatalf("AppendImages failed: %v", err)
	}
	c[doc.ID].Touch(time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC))
	return c
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	c := sampleCollection(t)
	now := time.Date(2024, 6, 12, 9, 30, 0, 0, time.UTC)

	data, err := Encode(c, now)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("payload is not a JSON object: %v", err)
	}
	for _, key := range []string{"documents", "lastSync", "version"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Error("payload should be indented")
	}

	p, dropped, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(dropped) != 0 {
		t.Errorf("dropped = %v", dropped)
	}
	if p.Version != FormatVersion {
		t.Errorf("Version = %q", p.Version)
	}
	if p.LastSync == nil || !p.LastSync.Equal(now) {
		t.Errorf("LastSync = %v, want %v", p.LastSync, now)
	}
	if diff := cmp.Diff(c, p.Documents); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Versions(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{name: "current", version: `"1.0"`},
		{name: "minor bump", version: `"1.3"`},
		{name: "patch form", version: `"1.0.2"`},
		{name: "missing", version: ""},
		{name: "next major", version: `"2.0"`, wantErr: true},
		{name: "garbage", version: `"banana"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := `{"documents": {}`
			if tt.version != "" {
				data += `, "version": ` + tt.version
			}
			data += `}`

			_, _, err := Decode([]byte(data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedData) {
					t.Errorf("Decode error = %v, want ErrMalformedData", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Decode failed: %v", err)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, input := range []string{"", "   ", "{", "[1,2,3]", `{"documents": 7}`} {
		if _, _, err := Decode([]byte(input)); !errors.Is(err, ErrMalformedData) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedData", input, err)
		}
	}
}

func TestDecode_SeparatesInvalidDocuments(t *testing.T) {
	data := `{
		"documents": {
			"doc_ok": {"name": "Fine", "images": [], "createdDate": "2024-06-10T00:00:00Z"},
			"doc_bad": {"name": "", "images": [], "createdDate": "2024-06-10T00:00:00Z"}
		},
		"version": "1.0"
	}`
	p, dropped, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff([]string{"doc_bad"}, dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
	if _, ok := p.Documents["doc_ok"]; !ok || len(p.Documents) != 1 {
		t.Errorf("documents = %v", p.Documents.IDs())
	}
	if _, ok := p.Invalid["doc_bad"]; !ok || len(p.Invalid) != 1 {
		t.Errorf("invalid = %v, want doc_bad kept aside", p.Invalid.IDs())
	}
}

func TestDecodeSnapshot_KeepsRevisionOnMalformed(t *testing.T) {
	snap, err := DecodeSnapshot(TypeGist, []byte("not json"), "etag-1")
	if KindOf(err) != KindMalformedData {
		t.Fatalf("kind = %v, want malformed data", KindOf(err))
	}
	if snap == nil || snap.Revision != "etag-1" || len(snap.Collection) != 0 {
		t.Errorf("snapshot = %+v, want empty with revision", snap)
	}
}
