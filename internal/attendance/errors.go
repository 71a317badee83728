package attendance

import "errors"

// Reason identifies why a submission was turned away. The set is closed and
// client-facing; anything outside it is an unexpected failure.
type Reason string

const (
	ReasonIncomplete       Reason = "incomplete"
	ReasonNotFound         Reason = "not_found"
	ReasonIdentityMismatch Reason = "identity_mismatch"
	ReasonExpired          Reason = "expired"
	ReasonScopeNotFound    Reason = "scope_not_found"
	ReasonDuplicateForDay  Reason = "duplicate_for_day"
	ReasonNoCodeFound      Reason = "no_code_found"
	ReasonUndecodable      Reason = "undecodable"
)

// Rejection is an expected negative outcome, not a server fault. Duplicate
// scans in particular are frequent and must stay cheap to report.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	if r.Message != "" {
		return string(r.Reason) + ": " + r.Message
	}
	return string(r.Reason)
}

// Reject builds a rejection error.
func Reject(reason Reason, msg string) error {
	return &Rejection{Reason: reason, Message: msg}
}

// AsRejection unwraps err into a Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
