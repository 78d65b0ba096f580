package stock

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const referencePrefix = "OUT"

var referencePattern = regexp.MustCompile(`^OUT-\d+-[0-9A-F]{8}$`)

// NewReferenceNumber returns OUT-<epoch-millis>-<8 random hex chars>.
func NewReferenceNumber(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", referencePrefix, now.UnixMilli(), strings.ToUpper(random))
}

// IsReferenceNumber reports whether ref has the generated batch format.
func IsReferenceNumber(ref string) bool {
	return referencePattern.MatchString(ref)
}
