package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ternarybob/casestrainer/internal/models"
)

// Fingerprint derives the cache key for a normalized citation. The schema
// version is folded into the hash so a version bump orphans old entries
// instead of misreading them.
func Fingerprint(normalizedCitation string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|v%d", normalizedCitation, models.CacheSchemaVersion)))
	return hex.EncodeToString(sum[:])
}
