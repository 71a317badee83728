package attendance

import (
	"strings"
	"time"

	"attendance/internal/civil"
)

// DefaultFreshness is how old a time-stamped QR claim may be and still count.
const DefaultFreshness = 60 * time.Minute

// Verifier cross-checks a claim against the identity it resolved to. Every
// field present on the claim must match the stored record; absent fields are
// vacuously satisfied so partial claims (phone-only) pass.
type Verifier struct {
	cal       *civil.Calendar
	freshness time.Duration
}

// NewVerifier creates a verifier with the given freshness window for QR
// issuance timestamps. A non-positive window falls back to the default.
func NewVerifier(cal *civil.Calendar, freshness time.Duration) *Verifier {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Verifier{cal: cal, freshness: freshness}
}

// Verify accepts or rejects the claim. Mismatch details are deliberately not
// field-specific in the message.
func (v *Verifier) Verify(claim Claim, resolved *ResolvedIdentity) error {
	if !claim.HasIdentifier() {
		return Reject(ReasonIncomplete, "claim carries no user id or phone number")
	}
	if claim.UserID != "" && claim.UserID != resolved.ID {
		return Reject(ReasonIdentityMismatch, "submitted data does not match our records")
	}
	if claim.Phone != "" && claim.Phone != resolved.Phone {
		return Reject(ReasonIdentityMismatch, "submitted data does not match our records")
	}
	if claim.FullName != "" && !equalName(claim.FullName, resolved.FullName) {
		return Reject(ReasonIdentityMismatch, "submitted data does not match our records")
	}
	if claim.Method == MethodQRCode && claim.IssuedAt != nil {
		age := v.cal.Now().Sub(claim.IssuedAt.In(v.cal.Location()))
		if age > v.freshness {
			return Reject(ReasonExpired, "QR code has expired, please request a fresh one")
		}
	}
	return nil
}

func equalName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
