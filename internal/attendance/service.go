package attendance

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"attendance/internal/civil"
)

// ScopeRegistry checks that a referenced course or live meeting exists.
type ScopeRegistry interface {
	CourseExists(ctx context.Context, id string) (bool, error)
	MeetingExists(ctx context.Context, id string) (bool, error)
}

// RecordStore persists attendance records. Insert must enforce the
// per-(user, scope, civil day) uniqueness and report a violation as a
// duplicate_for_day rejection, closing the check-then-act race.
type RecordStore interface {
	FindValidForDay(ctx context.Context, userID string, scope Scope, day string) (*Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	UpdateStatusNotes(ctx context.Context, id string, status *Status, notes *string) (Record, error)
	Invalidate(ctx context.Context, id, reason string) (Record, error)
	List(ctx context.Context, f RecordFilter) ([]Record, error)
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	UserID    string
	CourseID  string
	MeetingID string
	Day       string
	Limit     int
	Offset    int
}

// SubmitOptions carries the per-submission extras a channel may set.
type SubmitOptions struct {
	ScannedBy string
	Status    Status // empty means present
	Notes     string
	Location  string
}

// Service runs the claim -> resolve -> verify -> record pipeline. All three
// input channels funnel through it so the duplicate check lives in one place.
type Service struct {
	resolver *Resolver
	verifier *Verifier
	scopes   ScopeRegistry
	store    RecordStore
	cal      *civil.Calendar
}

// NewService wires the pipeline.
func NewService(resolver *Resolver, verifier *Verifier, scopes ScopeRegistry, store RecordStore, cal *civil.Calendar) *Service {
	return &Service{resolver: resolver, verifier: verifier, scopes: scopes, store: store, cal: cal}
}

// Submit takes an untrusted claim through resolution, verification and
// recording. Rejections come back as *Rejection; anything else is a server
// fault and safe to retry thanks to the day-scoped uniqueness.
func (s *Service) Submit(ctx context.Context, claim Claim, scope Scope, opts SubmitOptions) (Record, error) {
	if err := validateScope(scope); err != nil {
		return Record{}, err
	}
	resolved, err := s.resolver.Resolve(ctx, claim)
	if err != nil {
		return Record{}, err
	}
	if err := s.verifier.Verify(claim, resolved); err != nil {
		return Record{}, err
	}
	payload, _ := json.Marshal(claim)
	return s.record(ctx, resolved, scope, claim.Method, payload, opts)
}

// Record persists a verified identity without re-running claim checks. Used
// when the caller already holds a resolved identity.
func (s *Service) Record(ctx context.Context, resolved *ResolvedIdentity, scope Scope, method Method, opts SubmitOptions) (Record, error) {
	if err := validateScope(scope); err != nil {
		return Record{}, err
	}
	return s.record(ctx, resolved, scope, method, nil, opts)
}

func (s *Service) record(ctx context.Context, resolved *ResolvedIdentity, scope Scope, method Method, payload json.RawMessage, opts SubmitOptions) (Record, error) {
	switch scope.Type() {
	case TypeCourse:
		ok, err := s.scopes.CourseExists(ctx, scope.CourseID)
		if err != nil {
			return Record{}, err
		}
		if !ok {
			return Record{}, Reject(ReasonScopeNotFound, "course not found")
		}
	case TypeLiveMeeting:
		ok, err := s.scopes.MeetingExists(ctx, scope.MeetingID)
		if err != nil {
			return Record{}, err
		}
		if !ok {
			return Record{}, Reject(ReasonScopeNotFound, "live meeting not found")
		}
	}

	now := s.cal.Now()
	day := s.cal.DayOf(now)

	// Cheap pre-check; the partial unique indexes are the real guarantee.
	if scope.Type() != TypeGeneral {
		existing, err := s.store.FindValidForDay(ctx, resolved.ID, scope, day)
		if err != nil {
			return Record{}, err
		}
		if existing != nil {
			return Record{}, Reject(ReasonDuplicateForDay, "attendance already recorded today")
		}
	}

	status := opts.Status
	if status == "" {
		status = StatusPresent
	}
	if status != StatusPresent && status != StatusLate && status != StatusAbsent {
		return Record{}, Reject(ReasonIncomplete, "unknown attendance status")
	}

	rec := Record{
		ID:         uuid.NewString(),
		UserID:     resolved.ID,
		UserName:   resolved.FullName,
		UserPhone:  resolved.Phone,
		UserRole:   resolved.Role,
		Type:       scope.Type(),
		Method:     method,
		ScannedBy:  opts.ScannedBy,
		Status:     status,
		AttendedAt: now,
		Day:        day,
		IsValid:    true,
		Notes:      opts.Notes,
		Location:   opts.Location,
		Payload:    payload,
	}
	if scope.CourseID != "" {
		rec.CourseID = &scope.CourseID
	}
	if scope.MeetingID != "" {
		rec.MeetingID = &scope.MeetingID
	}
	return s.store.Insert(ctx, rec)
}

// GetRecord fetches one record.
func (s *Service) GetRecord(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}

// ListRecords returns records matching the filter.
func (s *Service) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	return s.store.List(ctx, f)
}

// UpdateRecord changes status and/or notes on a record (staff correction).
func (s *Service) UpdateRecord(ctx context.Context, id string, status *Status, notes *string) (Record, error) {
	if status != nil {
		switch *status {
		case StatusPresent, StatusLate, StatusAbsent:
		default:
			return Record{}, Reject(ReasonIncomplete, "unknown attendance status")
		}
	}
	return s.store.UpdateStatusNotes(ctx, id, status, notes)
}

// InvalidateRecord flips a record invalid with a reason. Invalidated records
// no longer block a fresh submission for the same day.
func (s *Service) InvalidateRecord(ctx context.Context, id, reason string) (Record, error) {
	if reason == "" {
		return Record{}, Reject(ReasonIncomplete, "invalidation reason required")
	}
	return s.store.Invalidate(ctx, id, reason)
}

func validateScope(scope Scope) error {
	if scope.CourseID != "" && scope.MeetingID != "" {
		return Reject(ReasonIncomplete, "course and live meeting are mutually exclusive")
	}
	return nil
}
