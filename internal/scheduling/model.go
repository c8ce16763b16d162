package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotFree      SlotStatus = "free"
	SlotOccupied  SlotStatus = "occupied"
	SlotCancelled SlotStatus = "cancelled"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

type Modality string

const (
	ModalityInPerson Modality = "presencial"
	ModalityOnline   Modality = "online"
)

func (m Modality) Valid() bool {
	return m == ModalityInPerson || m == ModalityOnline
}

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseActive    PurchaseStatus = "active"
	PurchaseCancelled PurchaseStatus = "cancelled"
	PurchaseExpired   PurchaseStatus = "expired"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

// Actor is the authenticated caller as asserted by the upstream auth layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) Staff() bool {
	return a.Role == RoleProfessional || a.Role == RoleAdmin
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Professional struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a discrete bookable time unit. Dates are YYYY-MM-DD and times
// HH:MM, interpreted in the service's configured timezone.
type Slot struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Date           string
	StartTime      string
	EndTime        string
	Status         SlotStatus
	PatientID      *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Booking struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProfessionalID  uuid.UUID
	ScheduledAt     time.Time
	Modality        Modality
	Status          BookingStatus
	Notes           string
	CancelReason    *string
	RescheduleCount int
	PackageID       *uuid.UUID
	SlotID          *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AvailabilityRule is one weekly recurrence entry of a professional's
// availability template.
type AvailabilityRule struct {
	Weekday   time.Weekday
	StartTime string // HH:MM
	EndTime   string // HH:MM
}

type AvailabilityTemplate struct {
	ProfessionalID  uuid.UUID
	Rules           []AvailabilityRule
	IntervalMinutes int
}

type PackagePurchase struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	ProfessionalID    uuid.UUID
	TotalSessions     int
	SessionsUsed      int
	Status            PurchaseStatus
	FirstSlotID       *uuid.UUID
	BookingsGenerated bool
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

type BookingDetail struct {
	Booking
	Slot         *Slot
	Patient      *Patient
	Professional *Professional
}

// ExpansionReport is the outcome of a package expansion run. Partial
// failure is the expected common case, not an error.
type ExpansionReport struct {
	Success           bool        `json:"success"`
	CreatedBookingIDs []uuid.UUID `json:"createdBookingIds"`
	Errors            []string    `json:"errors"`
}
