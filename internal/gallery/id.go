package gallery

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idSuffixLen = 9

// NewID returns a fresh document id of the form doc_<unix-millis>_<suffix>,
// where suffix is 9 base-36 characters drawn from a random UUID.
func NewID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < idSuffixLen {
		suffix = strings.Repeat("0", idSuffixLen-len(suffix)) + suffix
	}
	return "doc_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix[len(suffix)-idSuffixLen:]
}
