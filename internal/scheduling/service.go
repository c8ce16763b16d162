package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaclin/clinic-scheduling/internal/config"
	redisclient "github.com/agendaclin/clinic-scheduling/internal/redis"
)

const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingConfirmed   = "BOOKING_CONFIRMED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingRescheduled = "BOOKING_RESCHEDULED"
	EventBookingCompleted   = "BOOKING_COMPLETED"
	EventPackageExpanded    = "PACKAGE_EXPANDED"
)

var (
	ErrSlotUnavailable       = errors.New("slot unavailable")
	ErrTimeBeingBooked       = errors.New("time is currently being booked, please retry")
	ErrRescheduleLimit       = errors.New("reschedule limit reached")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrJustificationRequired = errors.New("cancellation justification is required")
	ErrInvalidModality       = errors.New("invalid modality")
	ErrForbidden             = errors.New("actor not allowed to modify this booking")
	ErrMissingTarget         = errors.New("either a slot id or a timestamp is required")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) (*Service, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
		loc:    loc,
		now:    time.Now,
	}, nil
}

// Location is the timezone slot dates and times are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// RegenerateSlots expands the template over [from, to] and replaces the
// professional's free slots in that range. Occupied slots are preserved so
// existing bookings stay valid.
func (s *Service) RegenerateSlots(ctx context.Context, tmpl AvailabilityTemplate, from, to string) ([]Slot, error) {
	if _, err := s.repo.GetProfessionalByID(ctx, tmpl.ProfessionalID); err != nil {
		return nil, err
	}

	slots, err := GenerateSlots(tmpl, from, to, s.loc)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceFreeSlots(ctx, tmpl.ProfessionalID, from, to, slots); err != nil {
		return nil, fmt.Errorf("replace free slots: %w", err)
	}

	s.log.Info("slots regenerated",
		zap.String("professional_id", tmpl.ProfessionalID.String()),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("generated", len(slots)),
	)

	return slots, nil
}

func (s *Service) ListSlots(ctx context.Context, professionalID uuid.UUID, from, to string, status *SlotStatus) ([]Slot, error) {
	if _, err := s.repo.GetProfessionalByID(ctx, professionalID); err != nil {
		return nil, err
	}
	return s.repo.ListSlots(ctx, professionalID, from, to, status)
}

type ReserveSlotInput struct {
	ProfessionalID uuid.UUID
	SlotID         uuid.UUID
	PatientID      uuid.UUID
	Modality       Modality
	Notes          string
	PackageID      *uuid.UUID
}

// ReserveSlot atomically transitions the slot from free to occupied and
// creates the booking. A lost race surfaces as ErrSlotUnavailable; the
// caller is expected to re-poll available slots, never retry blindly.
func (s *Service) ReserveSlot(ctx context.Context, in ReserveSlotInput) (*BookingDetail, error) {
	if !in.Modality.Valid() {
		return nil, ErrInvalidModality
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, in.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.ProfessionalID != in.ProfessionalID || slot.Status != SlotFree {
		return nil, ErrSlotUnavailable
	}

	if err := s.repo.OccupySlot(ctx, in.SlotID, in.ProfessionalID, in.PatientID); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	scheduledAt, err := ResolveTimestamp(slot.Date, slot.StartTime, s.loc)
	if err != nil {
		return nil, err
	}

	booking := &Booking{
		PatientID:      in.PatientID,
		ProfessionalID: in.ProfessionalID,
		ScheduledAt:    scheduledAt,
		Modality:       in.Modality,
		Status:         StatusPending,
		Notes:          in.Notes,
		PackageID:      in.PackageID,
		SlotID:         &slot.ID,
	}

	// The slot is already held. A booking insert failure here leaves an
	// occupied slot without a booking, which is surfaced loudly instead of
	// rolled back.
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		s.log.Error("booking insert failed after slot occupy",
			zap.String("slot_id", slot.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logEvent(ctx, booking.ID, EventBookingCreated, map[string]any{
		"slot_id":    slot.ID.String(),
		"patient_id": in.PatientID.String(),
	})

	return s.repo.GetBookingDetail(ctx, booking.ID)
}

type ReserveTimeInput struct {
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	At             time.Time
	Modality       Modality
	Notes          string
}

// ReserveAt books an explicit timestamp with no backing slot row. The
// per-instant lock narrows the race window and the partial unique index on
// active bookings closes it: a concurrent duplicate insert fails with
// ErrTimeTaken.
func (s *Service) ReserveAt(ctx context.Context, in ReserveTimeInput) (*BookingDetail, error) {
	if !in.Modality.Valid() {
		return nil, ErrInvalidModality
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetProfessionalByID(ctx, in.ProfessionalID); err != nil {
		return nil, err
	}

	booking := &Booking{
		PatientID:      in.PatientID,
		ProfessionalID: in.ProfessionalID,
		ScheduledAt:    in.At,
		Modality:       in.Modality,
		Status:         StatusPending,
		Notes:          in.Notes,
	}

	key := fmt.Sprintf("agenda:%s:%d", in.ProfessionalID, in.At.Unix())
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		return s.repo.CreateBooking(lockCtx, booking)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrTimeBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, booking.ID, EventBookingCreated, map[string]any{
		"patient_id":   in.PatientID.String(),
		"scheduled_at": in.At,
	})

	return s.repo.GetBookingDetail(ctx, booking.ID)
}

// Cancel moves a pending or confirmed booking to cancelled. Patients may
// only cancel their own future bookings; staff may cancel at any time.
// Justification is mandatory. Package session counts are not refunded.
func (s *Service) Cancel(ctx context.Context, actor Actor, bookingID uuid.UUID, justification string) (*Booking, error) {
	if strings.TrimSpace(justification) == "" {
		return nil, ErrJustificationRequired
	}

	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actor.Role == RolePatient {
		if actor.ID != booking.PatientID {
			return nil, ErrForbidden
		}
		if !booking.ScheduledAt.After(s.now()) {
			return nil, ErrForbidden
		}
	}

	if booking.Status == StatusCancelled || booking.Status == StatusCompleted {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.repo.CancelBooking(ctx, bookingID, justification)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Row existed a moment ago; the conditional update lost to a
			// concurrent transition.
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	s.releaseSlot(ctx, booking)

	s.logEvent(ctx, cancelled.ID, EventBookingCancelled, map[string]any{
		"justification": justification,
		"actor_role":    string(actor.Role),
	})

	return cancelled, nil
}

type RescheduleInput struct {
	SlotID *uuid.UUID
	At     *time.Time
	Motive string
}

// Reschedule moves a booking to a new slot or timestamp. The new slot is
// occupied before the old one is freed, so the booking never has zero valid
// slots. Bounded by the configured reschedule limit.
func (s *Service) Reschedule(ctx context.Context, actor Actor, bookingID uuid.UUID, in RescheduleInput) (*Booking, error) {
	if in.SlotID == nil && in.At == nil {
		return nil, ErrMissingTarget
	}

	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actor.Role == RolePatient && actor.ID != booking.PatientID {
		return nil, ErrForbidden
	}
	if booking.Status == StatusCancelled || booking.Status == StatusCompleted {
		return nil, ErrInvalidTransition
	}
	if booking.RescheduleCount >= s.cfg.MaxReschedules {
		return nil, ErrRescheduleLimit
	}

	var (
		newTime   time.Time
		newSlotID *uuid.UUID
	)

	if in.SlotID != nil {
		slot, err := s.repo.GetSlotByID(ctx, *in.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.ProfessionalID != booking.ProfessionalID || slot.Status != SlotFree {
			return nil, ErrSlotUnavailable
		}
		if err := s.repo.OccupySlot(ctx, slot.ID, booking.ProfessionalID, booking.PatientID); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return nil, ErrSlotUnavailable
			}
			return nil, err
		}
		newTime, err = ResolveTimestamp(slot.Date, slot.StartTime, s.loc)
		if err != nil {
			return nil, err
		}
		newSlotID = &slot.ID
	} else {
		newTime = *in.At
	}

	updated, err := s.repo.RescheduleBooking(ctx, bookingID, newTime, newSlotID, s.cfg.MaxReschedules)
	if err != nil {
		// The new slot was already taken for this attempt; give it back.
		if newSlotID != nil {
			if freeErr := s.repo.FreeSlot(ctx, *newSlotID); freeErr != nil {
				s.log.Error("failed to release slot after reschedule failure",
					zap.String("slot_id", newSlotID.String()),
					zap.Error(freeErr),
				)
			}
		}
		if errors.Is(err, ErrBookingNotFound) {
			return nil, s.classifyRescheduleFailure(ctx, bookingID)
		}
		return nil, err
	}

	// Old slot is freed only now that the new reservation holds.
	s.releaseSlot(ctx, booking)

	s.logEvent(ctx, updated.ID, EventBookingRescheduled, map[string]any{
		"motive":           in.Motive,
		"new_time":         newTime,
		"reschedule_count": updated.RescheduleCount,
	})

	return updated, nil
}

// classifyRescheduleFailure re-reads the booking to decide why the guarded
// update matched zero rows.
func (s *Service) classifyRescheduleFailure(ctx context.Context, bookingID uuid.UUID) error {
	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.RescheduleCount >= s.cfg.MaxReschedules {
		return ErrRescheduleLimit
	}
	return ErrInvalidTransition
}

// Confirm moves a pending booking to confirmed. Staff only.
func (s *Service) Confirm(ctx context.Context, actor Actor, bookingID uuid.UUID) (*Booking, error) {
	if !actor.Staff() {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, bookingID, []BookingStatus{StatusPending}, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, s.classifyTransitionFailure(ctx, bookingID)
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingConfirmed, map[string]any{})

	return updated, nil
}

// Complete marks a booking completed. Staff only, typically after the
// appointment time has passed.
func (s *Service) Complete(ctx context.Context, actor Actor, bookingID uuid.UUID) (*Booking, error) {
	if !actor.Staff() {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, bookingID,
		[]BookingStatus{StatusPending, StatusConfirmed}, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, s.classifyTransitionFailure(ctx, bookingID)
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingCompleted, map[string]any{})

	return updated, nil
}

func (s *Service) classifyTransitionFailure(ctx context.Context, bookingID uuid.UUID) error {
	if _, err := s.repo.GetBookingByID(ctx, bookingID); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// UpdateNotes annotates a booking in any state. Staff only.
func (s *Service) UpdateNotes(ctx context.Context, actor Actor, bookingID uuid.UUID, notes string) (*Booking, error) {
	if !actor.Staff() {
		return nil, ErrForbidden
	}
	return s.repo.UpdateBookingNotes(ctx, bookingID, notes)
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	return s.repo.GetBookingDetail(ctx, id)
}

func (s *Service) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListBookingsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListBookingsByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListBookingsByProfessional(ctx, professionalID, limit, offset)
}

// CompletePastBookings is called by the completion worker periodically to
// mark past-dated pending and confirmed bookings as completed.
func (s *Service) CompletePastBookings(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindPastActiveBookings(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find past active bookings: %w", err)
	}

	completed := 0
	for _, b := range candidates {
		_, err := s.repo.UpdateBookingStatus(ctx, b.ID,
			[]BookingStatus{StatusPending, StatusConfirmed}, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrBookingNotFound) {
				s.log.Warn("failed to complete booking",
					zap.String("booking_id", b.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		completed++
		s.logEvent(ctx, b.ID, EventBookingCompleted, map[string]any{"reason": "worker"})
	}

	return completed, nil
}

// releaseSlot frees the booking's slot when its time has not passed yet.
// Past slots keep their occupied status for history.
func (s *Service) releaseSlot(ctx context.Context, booking *Booking) {
	if booking.SlotID == nil || !booking.ScheduledAt.After(s.now()) {
		return
	}
	if err := s.repo.FreeSlot(ctx, *booking.SlotID); err != nil {
		s.log.Error("failed to free slot",
			zap.String("slot_id", booking.SlotID.String()),
			zap.Error(err),
		)
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID

	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}
