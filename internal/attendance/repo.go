package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres. It backs the record store,
// the user/scope directories and the statistics queries.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, user_id, user_name, user_phone, user_role, course_id, meeting_id,
	attendance_type, scan_method, scanned_by, status, attended_at, attendance_day,
	is_valid, invalid_reason, notes, location, claim_payload, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var scannedBy, notes, location sql.NullString
	var day time.Time
	var payload []byte
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.UserName, &rec.UserPhone, &rec.UserRole,
		&rec.CourseID, &rec.MeetingID, &rec.Type, &rec.Method, &scannedBy,
		&rec.Status, &rec.AttendedAt, &day, &rec.IsValid, &rec.InvalidReason,
		&notes, &location, &payload, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Day = day.Format("2006-01-02")
	rec.ScannedBy = scannedBy.String
	rec.Notes = notes.String
	rec.Location = location.String
	rec.Payload = payload
	return rec, nil
}

// FindValidForDay returns the valid record for (user, scope, day), if any.
// General scope has no per-day cap and always misses.
func (r *Repository) FindValidForDay(ctx context.Context, userID string, scope Scope, day string) (*Record, error) {
	var row *sql.Row
	switch scope.Type() {
	case TypeCourse:
		row = r.db.QueryRowContext(ctx, `
			SELECT `+recordColumns+`
			FROM attendance_records
			WHERE user_id = $1 AND course_id = $2 AND attendance_day = $3 AND is_valid
			LIMIT 1
		`, userID, scope.CourseID, day)
	case TypeLiveMeeting:
		row = r.db.QueryRowContext(ctx, `
			SELECT `+recordColumns+`
			FROM attendance_records
			WHERE user_id = $1 AND meeting_id = $2 AND attendance_day = $3 AND is_valid
			LIMIT 1
		`, userID, scope.MeetingID, day)
	default:
		return nil, nil
	}
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record. A unique-index violation means a concurrent
// submission won the day and is reported as the duplicate outcome.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, user_id, user_name, user_phone, user_role, course_id, meeting_id,
			 attendance_type, scan_method, scanned_by, status, attended_at, attendance_day,
			 is_valid, invalid_reason, notes, location, claim_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at
	`, rec.ID, rec.UserID, rec.UserName, rec.UserPhone, rec.UserRole, rec.CourseID, rec.MeetingID,
		rec.Type, rec.Method, nullable(rec.ScannedBy), rec.Status, rec.AttendedAt, rec.Day,
		rec.IsValid, rec.InvalidReason, nullable(rec.Notes), nullable(rec.Location), nullableBytes(rec.Payload))
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, Reject(ReasonDuplicateForDay, "attendance already recorded today")
		}
		return Record{}, err
	}
	return rec, nil
}

// Get returns a single record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, Reject(ReasonNotFound, "record not found")
	}
	return rec, err
}

// UpdateStatusNotes changes status and/or notes, leaving absent fields alone.
func (r *Repository) UpdateStatusNotes(ctx context.Context, id string, status *Status, notes *string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = COALESCE($2, status),
		    notes = COALESCE($3, notes),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns+`
	`, id, status, notes)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, Reject(ReasonNotFound, "record not found")
	}
	return rec, err
}

// Invalidate marks a record invalid, releasing its slot in the unique indexes.
func (r *Repository) Invalidate(ctx context.Context, id, reason string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET is_valid = FALSE, invalid_reason = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns+`
	`, id, reason)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, Reject(ReasonNotFound, "record not found")
	}
	return rec, err
}

// List returns records with basic filters, newest first.
func (r *Repository) List(ctx context.Context, f RecordFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = $"+itoa(len(args)+1))
		args = append(args, f.UserID)
	}
	if f.CourseID != "" {
		clauses = append(clauses, "course_id = $"+itoa(len(args)+1))
		args = append(args, f.CourseID)
	}
	if f.MeetingID != "" {
		clauses = append(clauses, "meeting_id = $"+itoa(len(args)+1))
		args = append(args, f.MeetingID)
	}
	if f.Day != "" {
		clauses = append(clauses, "attendance_day = $"+itoa(len(args)+1))
		args = append(args, f.Day)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY attended_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpsertDevice ensures a scanner device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return Reject(ReasonIncomplete, "device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, device_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, deviceID, expiresAt)
	return err
}

// FindByID looks a user up in the directory.
func (r *Repository) FindByID(ctx context.Context, id string) (*ResolvedIdentity, error) {
	return r.findUser(ctx, `SELECT id, full_name, phone, role FROM users WHERE id = $1`, id)
}

// FindByPhone looks a user up by phone number.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (*ResolvedIdentity, error) {
	return r.findUser(ctx, `SELECT id, full_name, phone, role FROM users WHERE phone = $1`, phone)
}

func (r *Repository) findUser(ctx context.Context, query, arg string) (*ResolvedIdentity, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	var ident ResolvedIdentity
	var phone, role sql.NullString
	if err := row.Scan(&ident.ID, &ident.FullName, &phone, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ident.Phone = phone.String
	ident.Role = role.String
	return &ident, nil
}

// CourseExists checks the course registry.
func (r *Repository) CourseExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, id)
}

// MeetingExists checks the live-meeting registry.
func (r *Repository) MeetingExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM live_meetings WHERE id = $1)`, id)
}

func (r *Repository) exists(ctx context.Context, query, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, query, id).Scan(&ok)
	return ok, err
}

// CountByTypeStatus groups valid records by attendance type and status over a
// closed day range. Empty userID means all users.
func (r *Repository) CountByTypeStatus(ctx context.Context, userID, fromDay, toDay string) ([]Bucket, error) {
	query := `
		SELECT attendance_type, status, COUNT(*)
		FROM attendance_records
		WHERE is_valid AND attendance_day BETWEEN $1 AND $2`
	args := []any{fromDay, toDay}
	if userID != "" {
		query += ` AND user_id = $3`
		args = append(args, userID)
	}
	query += ` GROUP BY attendance_type, status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Type, &b.Status, &b.Count); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// TrendByDay returns per-day counts over a closed day range, oldest first.
func (r *Repository) TrendByDay(ctx context.Context, fromDay, toDay string) ([]TrendPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT attendance_day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'present'),
		       COUNT(*) FILTER (WHERE status = 'late'),
		       COUNT(*) FILTER (WHERE status = 'absent')
		FROM attendance_records
		WHERE is_valid AND attendance_day BETWEEN $1 AND $2
		GROUP BY attendance_day
		ORDER BY attendance_day
	`, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TrendPoint
	for rows.Next() {
		var p TrendPoint
		var day time.Time
		if err := rows.Scan(&day, &p.Total, &p.Present, &p.Late, &p.Absent); err != nil {
			return nil, err
		}
		p.Day = day.Format("2006-01-02")
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
