package booking

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const referencePrefix = "BK-"

// NewReference returns a human-shareable booking reference such as BK-7F3A9C21B04E.
// Uniqueness is enforced by the ledger; callers retry on collision.
func NewReference() string {
	id := uuid.New()
	return referencePrefix + strings.ToUpper(hex.EncodeToString(id[:6]))
}
