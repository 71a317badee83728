package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/civil"
)

// fakeStore mimics the Postgres repository including the unique-index
// backstop: Insert re-checks under its lock, so racing submissions cannot
// both land even when they both passed the pre-check.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]Record{}}
}

func (s *fakeStore) matches(rec Record, userID string, scope Scope, day string) bool {
	if !rec.IsValid || rec.UserID != userID || rec.Day != day {
		return false
	}
	switch scope.Type() {
	case TypeCourse:
		return rec.CourseID != nil && *rec.CourseID == scope.CourseID
	case TypeLiveMeeting:
		return rec.MeetingID != nil && *rec.MeetingID == scope.MeetingID
	default:
		return false
	}
}

func (s *fakeStore) FindValidForDay(_ context.Context, userID string, scope Scope, day string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if s.matches(rec, userID, scope, day) {
			found := rec
			return &found, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Insert(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := Scope{}
	if rec.CourseID != nil {
		scope.CourseID = *rec.CourseID
	}
	if rec.MeetingID != nil {
		scope.MeetingID = *rec.MeetingID
	}
	if scope.Type() != TypeGeneral {
		for _, existing := range s.records {
			if s.matches(existing, rec.UserID, scope, rec.Day) {
				return Record{}, Reject(ReasonDuplicateForDay, "attendance already recorded today")
			}
		}
	}
	rec.CreatedAt = rec.AttendedAt
	rec.UpdatedAt = rec.AttendedAt
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, Reject(ReasonNotFound, "record not found")
	}
	return rec, nil
}

func (s *fakeStore) UpdateStatusNotes(_ context.Context, id string, status *Status, notes *string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, Reject(ReasonNotFound, "record not found")
	}
	if status != nil {
		rec.Status = *status
	}
	if notes != nil {
		rec.Notes = *notes
	}
	s.records[id] = rec
	return rec, nil
}

func (s *fakeStore) Invalidate(_ context.Context, id, reason string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, Reject(ReasonNotFound, "record not found")
	}
	rec.IsValid = false
	rec.InvalidReason = &reason
	s.records[id] = rec
	return rec, nil
}

func (s *fakeStore) List(_ context.Context, f RecordFilter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeRegistry struct {
	courses  map[string]bool
	meetings map[string]bool
}

func (r *fakeRegistry) CourseExists(_ context.Context, id string) (bool, error) {
	return r.courses[id], nil
}

func (r *fakeRegistry) MeetingExists(_ context.Context, id string) (bool, error) {
	return r.meetings[id], nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService(t *testing.T) (*Service, *fakeStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 15, 10, 0, 0, 0, wib)}
	cal := civil.NewCalendarAt(wib, clock.Now)
	store := newFakeStore()
	registry := &fakeRegistry{
		courses:  map[string]bool{"c1": true},
		meetings: map[string]bool{"m1": true},
	}
	dir := newFakeDirectory(resolvedAlice())
	svc := NewService(NewResolver(dir), NewVerifier(cal, 0), registry, store, cal)
	return svc, store, clock
}

func qrClaim() Claim {
	return Claim{UserID: "64a1b2c3d4e5f6a7b8c9d0e1", Type: ClaimType, Method: MethodQRCode}
}

func TestSubmitRecordsCourseAttendance(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Submit(context.Background(), qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{ScannedBy: "device-1"})
	require.NoError(t, err)

	assert.Equal(t, TypeCourse, rec.Type)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, "2025-03-15", rec.Day)
	assert.Equal(t, "Alice Wijaya", rec.UserName)
	assert.Equal(t, "081234567890", rec.UserPhone)
	assert.Equal(t, "device-1", rec.ScannedBy)
	assert.True(t, rec.IsValid)
	require.NotNil(t, rec.CourseID)
	assert.Equal(t, "c1", *rec.CourseID)
	assert.NotEmpty(t, rec.Payload, "raw claim is retained for audit")
}

func TestSubmitDuplicateSameDayAnyChannel(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	require.NoError(t, err)

	// identical resubmission through the QR channel
	_, err = svc.Submit(context.Background(), qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDuplicateForDay, rej.Reason)

	// same user and scope through the manual channel
	manual := Claim{Phone: "081234567890", Method: MethodManual}
	_, err = svc.Submit(context.Background(), manual, Scope{CourseID: "c1"}, SubmitOptions{})
	rej, ok = AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDuplicateForDay, rej.Reason)

	assert.Equal(t, 1, store.count())
}

func TestSubmitConcurrentSameKey(t *testing.T) {
	svc, store, _ := newTestService(t)

	const n = 25
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var recorded, duplicates int
	for err := range results {
		if err == nil {
			recorded++
			continue
		}
		rej, ok := AsRejection(err)
		require.True(t, ok, "unexpected error: %v", err)
		require.Equal(t, ReasonDuplicateForDay, rej.Reason)
		duplicates++
	}
	assert.Equal(t, 1, recorded)
	assert.Equal(t, n-1, duplicates)
	assert.Equal(t, 1, store.count())
}

func TestSubmitNextCivilDayIsNotDuplicate(t *testing.T) {
	svc, store, clock := newTestService(t)

	clock.Set(time.Date(2025, 3, 15, 23, 59, 59, 0, wib))
	_, err := svc.Submit(context.Background(), qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	require.NoError(t, err)

	clock.Set(time.Date(2025, 3, 16, 0, 0, 1, 0, wib))
	_, err = svc.Submit(context.Background(), qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, store.count())
}

func TestSubmitScopeHandling(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, qrClaim(), Scope{MeetingID: "m1"}, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, TypeLiveMeeting, rec.Type)

	// a course record on the same day is a different scope, not a duplicate
	rec, err = svc.Submit(ctx, qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, TypeCourse, rec.Type)

	// general attendance carries no per-day cap
	for i := 0; i < 2; i++ {
		rec, err = svc.Submit(ctx, Claim{Phone: "081234567890", Method: MethodManual}, Scope{}, SubmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, TypeGeneral, rec.Type)
	}
	assert.Equal(t, 4, store.count())

	// both references present rejects before any write
	_, err = svc.Submit(ctx, qrClaim(), Scope{CourseID: "c1", MeetingID: "m1"}, SubmitOptions{})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIncomplete, rej.Reason)

	// unknown scope
	_, err = svc.Submit(ctx, qrClaim(), Scope{CourseID: "missing"}, SubmitOptions{})
	rej, ok = AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonScopeNotFound, rej.Reason)
}

func TestSubmitStatusOverride(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, Claim{Phone: "081234567890", Method: MethodManual}, Scope{CourseID: "c1"}, SubmitOptions{Status: StatusLate, Notes: "overslept"})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)
	assert.Equal(t, "overslept", rec.Notes)

	_, err = svc.Submit(ctx, Claim{Phone: "081234567890", Method: MethodManual}, Scope{MeetingID: "m1"}, SubmitOptions{Status: Status("banana")})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIncomplete, rej.Reason)
}

func TestInvalidatedRecordFreesTheDay(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	require.NoError(t, err)

	invalidated, err := svc.InvalidateRecord(ctx, rec.ID, "scanned by mistake")
	require.NoError(t, err)
	assert.False(t, invalidated.IsValid)
	require.NotNil(t, invalidated.InvalidReason)

	// the slot is free again
	_, err = svc.Submit(ctx, qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	assert.NoError(t, err)
}

func TestUpdateRecordValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, qrClaim(), Scope{CourseID: "c1"}, SubmitOptions{})
	require.NoError(t, err)

	late := StatusLate
	updated, err := svc.UpdateRecord(ctx, rec.ID, &late, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, updated.Status)

	bad := Status("unknown")
	_, err = svc.UpdateRecord(ctx, rec.ID, &bad, nil)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIncomplete, rej.Reason)

	_, err = svc.InvalidateRecord(ctx, rec.ID, "")
	rej, ok = AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIncomplete, rej.Reason)
}

func TestSubmitVerifierRejectionsPropagate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// phone of one user combined with the id of no one
	claim := Claim{UserID: "ffffffffffffffffffffffff", Phone: "081234567890", Method: MethodQRCode}
	_, err := svc.Submit(ctx, claim, Scope{CourseID: "c1"}, SubmitOptions{})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIdentityMismatch, rej.Reason)
	assert.Equal(t, 0, store.count())
}
