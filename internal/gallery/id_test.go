package gallery

import (
	"regexp"
	"testing"
	"time"
)

var idPattern = regexp.MustCompile(`^doc_\d+_[0-9a-z]{9}$`)

func TestNewID_Format(t *testing.T) {
	now := time.UnixMilli(1718000000000)
	id := NewID(now)
	if !idPattern.MatchString(id) {
		t.Errorf("NewID() = %q, does not match %s", id, idPattern)
	}
	if id[:18] != "doc_1718000000000_" {
		t.Errorf("NewID() = %q, want millisecond prefix", id)
	}
}

func TestNewID_Unique(t *testing.T) {
	// Same millisecond for every id: uniqueness must come from the suffix.
	now := time.Now()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NewID(now)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d ids: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestCollection_CreateManyDistinct(t *testing.T) {
	c := Collection{}
	for i := 0; i < 10000; i++ {
		if _, err := c.Create("doc", time.Now()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if len(c) != 10000 {
		t.Errorf("len = %d, want 10000 distinct documents", len(c))
	}
}
