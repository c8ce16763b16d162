package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrPurchaseNotFound     = errors.New("package purchase not found")

	// ErrSlotTaken is the zero-rows-affected signal from the conditional
	// slot update: someone else won the race.
	ErrSlotTaken = errors.New("slot no longer free")

	// ErrTimeTaken maps the partial unique index on active bookings.
	ErrTimeTaken = errors.New("horário não disponível")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindSlotAt(ctx context.Context, professionalID uuid.UUID, date, startTime string) (*Slot, error)
	ListSlots(ctx context.Context, professionalID uuid.UUID, from, to string, status *SlotStatus) ([]Slot, error)

	// OccupySlot is the atomic reservation primitive: a single conditional
	// update from free to occupied. Returns ErrSlotTaken when zero rows
	// matched.
	OccupySlot(ctx context.Context, slotID, professionalID, patientID uuid.UUID) error
	// FreeSlot releases an occupied slot back to free and clears the patient.
	FreeSlot(ctx context.Context, slotID uuid.UUID) error
	// ReplaceFreeSlots deletes free slots for the professional in
	// [from, to] and inserts the given batch. Occupied and cancelled slots
	// are untouched.
	ReplaceFreeSlots(ctx context.Context, professionalID uuid.UUID, from, to string, slots []Slot) error

	// CreateBooking inserts the booking. Returns ErrTimeTaken when the
	// active-booking uniqueness constraint rejects the row.
	CreateBooking(ctx context.Context, b *Booking) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error)
	ListBookingsByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]BookingDetail, error)

	// Conditional status transitions. Each returns ErrBookingNotFound when
	// no row matched the expected prior state.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from []BookingStatus, to BookingStatus) (*Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID, reason string) (*Booking, error)
	RescheduleBooking(ctx context.Context, id uuid.UUID, newTime time.Time, newSlotID *uuid.UUID, maxCount int) (*Booking, error)
	UpdateBookingNotes(ctx context.Context, id uuid.UUID, notes string) (*Booking, error)

	// Completion worker
	FindPastActiveBookings(ctx context.Context, before time.Time) ([]Booking, error)

	CreatePurchase(ctx context.Context, p *PackagePurchase) error
	GetPurchaseByID(ctx context.Context, id uuid.UUID) (*PackagePurchase, error)
	ActivatePurchase(ctx context.Context, id uuid.UUID) (*PackagePurchase, error)
	// ClaimPurchaseExpansion flips bookings_generated from false to true.
	// The second return is false when the flag was already set.
	ClaimPurchaseExpansion(ctx context.Context, id uuid.UUID) (bool, error)
	SetPurchaseSessionsUsed(ctx context.Context, id uuid.UUID, used int) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
