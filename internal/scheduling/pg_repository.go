package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProfessionalID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.PatientID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.ProfessionalID,
		&b.ScheduledAt,
		&b.Modality,
		&b.Status,
		&b.Notes,
		&b.CancelReason,
		&b.RescheduleCount,
		&b.PackageID,
		&b.SlotID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &b, nil
}

func scanPurchase(row pgx.Row) (*PackagePurchase, error) {
	var p PackagePurchase

	err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.ProfessionalID,
		&p.TotalSessions,
		&p.SessionsUsed,
		&p.Status,
		&p.FirstSlotID,
		&p.BookingsGenerated,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}

	return &p, nil
}

const bookingColumns = `id, patient_id, professional_id, scheduled_at, modality, status,
		notes, cancel_reason, reschedule_count, package_id, slot_id, created_at, updated_at`

const slotColumns = `id, professional_id, slot_date, start_time, end_time, status,
		patient_id, created_at, updated_at`

const purchaseColumns = `id, patient_id, professional_id, total_sessions, sessions_used,
		status, first_slot_id, bookings_generated, expires_at, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM professionals
		WHERE id = $1
	`, id)
	return scanProfessional(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindSlotAt(ctx context.Context, professionalID uuid.UUID, date, startTime string) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE professional_id = $1 AND slot_date = $2 AND start_time = $3
	`, professionalID, date, startTime)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, professionalID uuid.UUID, from, to string, status *SlotStatus) ([]Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE professional_id = $1 AND slot_date >= $2 AND slot_date <= $3
	`
	args := []any{professionalID, from, to}
	if status != nil {
		query += ` AND status = $4`
		args = append(args, *status)
	}
	query += ` ORDER BY slot_date, start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) OccupySlot(ctx context.Context, slotID, professionalID, patientID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'occupied',
		    patient_id = $3,
		    updated_at = now()
		WHERE id = $1
		  AND professional_id = $2
		  AND status = 'free'
	`, slotID, professionalID, patientID)
	if err != nil {
		return fmt.Errorf("occupy slot: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}

	return nil
}

func (r *PgRepository) FreeSlot(ctx context.Context, slotID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'free',
		    patient_id = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'occupied'
	`, slotID)
	if err != nil {
		return fmt.Errorf("free slot: %w", err)
	}

	return nil
}

func (r *PgRepository) ReplaceFreeSlots(ctx context.Context, professionalID uuid.UUID, from, to string, slots []Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin regenerate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM slots
		WHERE professional_id = $1
		  AND slot_date >= $2
		  AND slot_date <= $3
		  AND status = 'free'
	`, professionalID, from, to)
	if err != nil {
		return fmt.Errorf("delete free slots: %w", err)
	}

	// Occupied and cancelled slots survive the delete. Skip generated slots
	// that would collide with them.
	kept, err := tx.Query(ctx, `
		SELECT slot_date, start_time
		FROM slots
		WHERE professional_id = $1
		  AND slot_date >= $2
		  AND slot_date <= $3
	`, professionalID, from, to)
	if err != nil {
		return fmt.Errorf("list kept slots: %w", err)
	}
	taken := make(map[string]bool)
	for kept.Next() {
		var date, start string
		if err := kept.Scan(&date, &start); err != nil {
			kept.Close()
			return err
		}
		taken[date+" "+start] = true
	}
	kept.Close()
	if err := kept.Err(); err != nil {
		return err
	}

	rows := make([][]any, 0, len(slots))
	now := time.Now()
	for _, s := range slots {
		if taken[s.Date+" "+s.StartTime] {
			continue
		}
		rows = append(rows, []any{
			s.ID, s.ProfessionalID, s.Date, s.StartTime, s.EndTime, string(s.Status), now, now,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"slots"},
		[]string{"id", "professional_id", "slot_date", "start_time", "end_time", "status", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert generated slots: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, professional_id, scheduled_at, modality,
			status, notes, reschedule_count, package_id, slot_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+bookingColumns+`
	`, b.ID, b.PatientID, b.ProfessionalID, b.ScheduledAt, b.Modality,
		b.Status, b.Notes, b.RescheduleCount, b.PackageID, b.SlotID)

	created, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTimeTaken
		}
		return fmt.Errorf("create booking: %w", err)
	}

	*b = *created
	return nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := r.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.hydrateBooking(ctx, b)
}

func (r *PgRepository) hydrateBooking(ctx context.Context, b *Booking) (*BookingDetail, error) {
	detail := BookingDetail{Booking: *b}

	patient, err := r.GetPatientByID(ctx, b.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}
	detail.Patient = patient

	professional, err := r.GetProfessionalByID(ctx, b.ProfessionalID)
	if err != nil && !errors.Is(err, ErrProfessionalNotFound) {
		return nil, err
	}
	detail.Professional = professional

	if b.SlotID != nil {
		slot, err := r.GetSlotByID(ctx, *b.SlotID)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		detail.Slot = slot
	}

	return &detail, nil
}

func (r *PgRepository) listBookings(ctx context.Context, where string, key uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+where+` = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, key, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]BookingDetail, 0, len(bookings))
	for i := range bookings {
		detail, err := r.hydrateBooking(ctx, &bookings[i])
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}

	return result, nil
}

func (r *PgRepository) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	return r.listBookings(ctx, "patient_id", patientID, limit, offset)
}

func (r *PgRepository) ListBookingsByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	return r.listBookings(ctx, "professional_id", professionalID, limit, offset)
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from []BookingStatus, to BookingStatus) (*Booking, error) {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+bookingColumns+`
	`, id, to, states)

	return scanBooking(row)
}

func (r *PgRepository) CancelBooking(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    cancel_reason = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+bookingColumns+`
	`, id, reason)

	return scanBooking(row)
}

func (r *PgRepository) RescheduleBooking(ctx context.Context, id uuid.UUID, newTime time.Time, newSlotID *uuid.UUID, maxCount int) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET scheduled_at = $2,
		    slot_id = $3,
		    reschedule_count = reschedule_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		  AND reschedule_count < $4
		RETURNING `+bookingColumns+`
	`, id, newTime, newSlotID, maxCount)

	b, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrTimeTaken
		}
		return nil, err
	}

	return b, nil
}

func (r *PgRepository) UpdateBookingNotes(ctx context.Context, id uuid.UUID, notes string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+bookingColumns+`
	`, id, notes)

	return scanBooking(row)
}

func (r *PgRepository) FindPastActiveBookings(ctx context.Context, before time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('pending', 'confirmed')
		  AND scheduled_at < $1
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreatePurchase(ctx context.Context, p *PackagePurchase) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO package_purchases (id, patient_id, professional_id, total_sessions,
			sessions_used, status, first_slot_id, bookings_generated, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+purchaseColumns+`
	`, p.ID, p.PatientID, p.ProfessionalID, p.TotalSessions,
		p.SessionsUsed, p.Status, p.FirstSlotID, p.BookingsGenerated, p.ExpiresAt)

	created, err := scanPurchase(row)
	if err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}

	*p = *created
	return nil
}

func (r *PgRepository) GetPurchaseByID(ctx context.Context, id uuid.UUID) (*PackagePurchase, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+`
		FROM package_purchases
		WHERE id = $1
	`, id)
	return scanPurchase(row)
}

func (r *PgRepository) ActivatePurchase(ctx context.Context, id uuid.UUID) (*PackagePurchase, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE package_purchases
		SET status = 'active',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+purchaseColumns+`
	`, id)

	return scanPurchase(row)
}

func (r *PgRepository) ClaimPurchaseExpansion(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE package_purchases
		SET bookings_generated = true,
		    updated_at = now()
		WHERE id = $1
		  AND bookings_generated = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim purchase expansion: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) SetPurchaseSessionsUsed(ctx context.Context, id uuid.UUID, used int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE package_purchases
		SET sessions_used = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, used)
	if err != nil {
		return fmt.Errorf("set sessions used: %w", err)
	}

	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
