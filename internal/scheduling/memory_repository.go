package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository with the same conditional
// update semantics as the Postgres implementation. Used by tests and local
// experiments; it is not meant for production.
type MemoryRepository struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]Patient
	professionals map[uuid.UUID]Professional
	slots         map[uuid.UUID]Slot
	bookings      map[uuid.UUID]Booking
	purchases     map[uuid.UUID]PackagePurchase
	events        []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:      make(map[uuid.UUID]Patient),
		professionals: make(map[uuid.UUID]Professional),
		slots:         make(map[uuid.UUID]Slot),
		bookings:      make(map[uuid.UUID]Booking),
		purchases:     make(map[uuid.UUID]PackagePurchase),
	}
}

// Seeding helpers

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddProfessional(p Professional) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.professionals[p.ID] = p
}

func (r *MemoryRepository) AddSlot(s Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[s.ID] = s
}

func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) BookingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bookings)
}

// Repository implementation

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetProfessionalByID(_ context.Context, id uuid.UUID) (*Professional, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.professionals[id]
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) FindSlotAt(_ context.Context, professionalID uuid.UUID, date, startTime string) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.ProfessionalID == professionalID && s.Date == date && s.StartTime == startTime {
			out := s
			return &out, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (r *MemoryRepository) ListSlots(_ context.Context, professionalID uuid.UUID, from, to string, status *SlotStatus) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Slot
	for _, s := range r.slots {
		if s.ProfessionalID != professionalID || s.Date < from || s.Date > to {
			continue
		}
		if status != nil && s.Status != *status {
			continue
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].StartTime < result[j].StartTime
	})

	return result, nil
}

func (r *MemoryRepository) OccupySlot(_ context.Context, slotID, professionalID, patientID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || s.ProfessionalID != professionalID || s.Status != SlotFree {
		return ErrSlotTaken
	}

	s.Status = SlotOccupied
	s.PatientID = &patientID
	s.UpdatedAt = time.Now()
	r.slots[slotID] = s
	return nil
}

func (r *MemoryRepository) FreeSlot(_ context.Context, slotID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || s.Status != SlotOccupied {
		return nil
	}

	s.Status = SlotFree
	s.PatientID = nil
	s.UpdatedAt = time.Now()
	r.slots[slotID] = s
	return nil
}

func (r *MemoryRepository) ReplaceFreeSlots(_ context.Context, professionalID uuid.UUID, from, to string, slots []Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.slots {
		if s.ProfessionalID == professionalID && s.Date >= from && s.Date <= to && s.Status == SlotFree {
			delete(r.slots, id)
		}
	}

	taken := make(map[string]bool)
	for _, s := range r.slots {
		if s.ProfessionalID == professionalID && s.Date >= from && s.Date <= to {
			taken[s.Date+" "+s.StartTime] = true
		}
	}

	for _, s := range slots {
		if taken[s.Date+" "+s.StartTime] {
			continue
		}
		r.slots[s.ID] = s
	}

	return nil
}

func (r *MemoryRepository) CreateBooking(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bookings {
		if existing.ProfessionalID == b.ProfessionalID &&
			existing.Status != StatusCancelled &&
			existing.ScheduledAt.Equal(b.ScheduledAt) {
			return ErrTimeTaken
		}
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.bookings[b.ID] = *b
	return nil
}

func (r *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := r.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.hydrate(b), nil
}

func (r *MemoryRepository) hydrate(b *Booking) *BookingDetail {
	r.mu.Lock()
	defer r.mu.Unlock()

	detail := BookingDetail{Booking: *b}
	if p, ok := r.patients[b.PatientID]; ok {
		detail.Patient = &p
	}
	if p, ok := r.professionals[b.ProfessionalID]; ok {
		detail.Professional = &p
	}
	if b.SlotID != nil {
		if s, ok := r.slots[*b.SlotID]; ok {
			detail.Slot = &s
		}
	}
	return &detail
}

func (r *MemoryRepository) listBookings(match func(Booking) bool, limit, offset int) []BookingDetail {
	r.mu.Lock()
	var matched []Booking
	for _, b := range r.bookings {
		if match(b) {
			matched = append(matched, b)
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ScheduledAt.After(matched[j].ScheduledAt)
	})

	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}

	result := make([]BookingDetail, 0, len(matched))
	for i := range matched {
		result = append(result, *r.hydrate(&matched[i]))
	}
	return result
}

func (r *MemoryRepository) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	return r.listBookings(func(b Booking) bool { return b.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListBookingsByProfessional(_ context.Context, professionalID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	return r.listBookings(func(b Booking) bool { return b.ProfessionalID == professionalID }, limit, offset), nil
}

func (r *MemoryRepository) UpdateBookingStatus(_ context.Context, id uuid.UUID, from []BookingStatus, to BookingStatus) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || !statusIn(b.Status, from) {
		return nil, ErrBookingNotFound
	}

	b.Status = to
	b.UpdatedAt = time.Now()
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryRepository) CancelBooking(_ context.Context, id uuid.UUID, reason string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || !statusIn(b.Status, []BookingStatus{StatusPending, StatusConfirmed}) {
		return nil, ErrBookingNotFound
	}

	b.Status = StatusCancelled
	b.CancelReason = &reason
	b.UpdatedAt = time.Now()
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryRepository) RescheduleBooking(_ context.Context, id uuid.UUID, newTime time.Time, newSlotID *uuid.UUID, maxCount int) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || !statusIn(b.Status, []BookingStatus{StatusPending, StatusConfirmed}) || b.RescheduleCount >= maxCount {
		return nil, ErrBookingNotFound
	}

	b.ScheduledAt = newTime
	b.SlotID = newSlotID
	b.RescheduleCount++
	b.UpdatedAt = time.Now()
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryRepository) UpdateBookingNotes(_ context.Context, id uuid.UUID, notes string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}

	b.Notes = notes
	b.UpdatedAt = time.Now()
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryRepository) FindPastActiveBookings(_ context.Context, before time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Booking
	for _, b := range r.bookings {
		if statusIn(b.Status, []BookingStatus{StatusPending, StatusConfirmed}) && b.ScheduledAt.Before(before) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (r *MemoryRepository) CreatePurchase(_ context.Context, p *PackagePurchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.purchases[p.ID] = *p
	return nil
}

func (r *MemoryRepository) GetPurchaseByID(_ context.Context, id uuid.UUID) (*PackagePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ActivatePurchase(_ context.Context, id uuid.UUID) (*PackagePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok || p.Status != PurchasePending {
		return nil, ErrPurchaseNotFound
	}

	p.Status = PurchaseActive
	p.UpdatedAt = time.Now()
	r.purchases[id] = p
	return &p, nil
}

func (r *MemoryRepository) ClaimPurchaseExpansion(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok || p.BookingsGenerated {
		return false, nil
	}

	p.BookingsGenerated = true
	p.UpdatedAt = time.Now()
	r.purchases[id] = p
	return true, nil
}

func (r *MemoryRepository) SetPurchaseSessionsUsed(_ context.Context, id uuid.UUID, used int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok {
		return ErrPurchaseNotFound
	}

	p.SessionsUsed = used
	p.UpdatedAt = time.Now()
	r.purchases[id] = p
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func statusIn(status BookingStatus, set []BookingStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
