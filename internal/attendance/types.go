package attendance

import (
	"encoding/json"
	"time"
)

// Type classifies which scope an attendance record applies to.
type Type string

const (
	TypeCourse      Type = "course"
	TypeLiveMeeting Type = "live_meeting"
	TypeGeneral     Type = "general"
)

// Status of a recorded attendance.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Method describes how the claim reached us.
type Method string

const (
	MethodQRCode Method = "qr_code"
	MethodManual Method = "manual"
)

// ClaimType is the discriminator tag carried inside QR payloads.
const ClaimType = "attendance"

// Claim is an unverified identity assertion submitted through one of the
// attendance channels. Absent fields stay empty; the verifier treats them as
// vacuously satisfied.
type Claim struct {
	UserID   string     `json:"userId,omitempty"`
	Phone    string     `json:"phoneNumber,omitempty"`
	FullName string     `json:"fullName,omitempty"`
	Role     string     `json:"role,omitempty"`
	Type     string     `json:"type,omitempty"`
	IssuedAt *time.Time `json:"timestamp,omitempty"`
	Method   Method     `json:"-"`
}

// HasIdentifier reports whether the claim carries anything resolvable.
func (c Claim) HasIdentifier() bool {
	return c.UserID != "" || c.Phone != ""
}

// ResolvedIdentity is the directory record matched to a claim. Its fields are
// both cross-checked against the claim and snapshotted onto the record.
type ResolvedIdentity struct {
	ID       string
	FullName string
	Phone    string
	Role     string
}

// Scope is the context a record applies to: a course, a live meeting, or
// neither (general attendance).
type Scope struct {
	CourseID  string
	MeetingID string
}

// Type derives the attendance type from which reference is present.
func (s Scope) Type() Type {
	switch {
	case s.CourseID != "":
		return TypeCourse
	case s.MeetingID != "":
		return TypeLiveMeeting
	default:
		return TypeGeneral
	}
}

// Record is one verified presence event.
type Record struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	UserName      string          `json:"user_name,omitempty"`
	UserPhone     string          `json:"user_phone,omitempty"`
	UserRole      string          `json:"user_role,omitempty"`
	CourseID      *string         `json:"course_id,omitempty"`
	MeetingID     *string         `json:"meeting_id,omitempty"`
	Type          Type            `json:"attendance_type"`
	Method        Method          `json:"scan_method"`
	ScannedBy     string          `json:"scanned_by,omitempty"`
	Status        Status          `json:"status"`
	AttendedAt    time.Time       `json:"attended_at"`
	Day           string          `json:"attendance_day"`
	IsValid       bool            `json:"is_valid"`
	InvalidReason *string         `json:"invalid_reason,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Location      string          `json:"location,omitempty"`
	Payload       json.RawMessage `json:"claim_payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
