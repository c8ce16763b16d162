package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaclin/clinic-scheduling/internal/config"
)

type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()

	repo := NewMemoryRepository()
	cfg := config.Config{
		Timezone:            "UTC",
		MaxReschedules:      3,
		PackageValidityDays: 180,
	}

	svc, err := NewService(repo, noopLocker{}, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return svc, repo
}

type fixture struct {
	patient      Patient
	professional Professional
	slot         Slot
}

// seedFixture registers a patient, a professional and one free slot a week
// from now.
func seedFixture(repo *MemoryRepository) fixture {
	specialty := "Psicologia"
	f := fixture{
		patient:      Patient{ID: uuid.New(), Name: "Ana Souza"},
		professional: Professional{ID: uuid.New(), Name: "Dra. Lima", Specialty: &specialty},
	}

	day := time.Now().UTC().AddDate(0, 0, 7)
	f.slot = Slot{
		ID:             uuid.New(),
		ProfessionalID: f.professional.ID,
		Date:           day.Format("2006-01-02"),
		StartTime:      "09:00",
		EndTime:        "10:00",
		Status:         SlotFree,
	}

	repo.AddPatient(f.patient)
	repo.AddProfessional(f.professional)
	repo.AddSlot(f.slot)
	return f
}

func reserveFixtureSlot(t *testing.T, svc *Service, f fixture) *BookingDetail {
	t.Helper()

	detail, err := svc.ReserveSlot(context.Background(), ReserveSlotInput{
		ProfessionalID: f.professional.ID,
		SlotID:         f.slot.ID,
		PatientID:      f.patient.ID,
		Modality:       ModalityOnline,
		Notes:          "primeira consulta",
	})
	if err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	return detail
}

func TestReserveSlotCreatesPendingBooking(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)

	detail := reserveFixtureSlot(t, svc, f)

	if detail.Status != StatusPending {
		t.Errorf("status = %s, want pending", detail.Status)
	}
	if detail.RescheduleCount != 0 {
		t.Errorf("reschedule count = %d, want 0", detail.RescheduleCount)
	}
	if detail.SlotID == nil || *detail.SlotID != f.slot.ID {
		t.Error("booking not linked to slot")
	}
	if detail.Professional == nil || detail.Professional.Name != "Dra. Lima" {
		t.Error("professional not denormalized on read")
	}

	wantTime, _ := ResolveTimestamp(f.slot.Date, f.slot.StartTime, time.UTC)
	if !detail.ScheduledAt.Equal(wantTime) {
		t.Errorf("scheduled at = %v, want %v", detail.ScheduledAt, wantTime)
	}

	slot, err := repo.GetSlotByID(context.Background(), f.slot.ID)
	if err != nil {
		t.Fatalf("GetSlotByID: %v", err)
	}
	if slot.Status != SlotOccupied {
		t.Errorf("slot status = %s, want occupied", slot.Status)
	}
	if slot.PatientID == nil || *slot.PatientID != f.patient.ID {
		t.Error("slot not bound to patient")
	}
}

func TestReserveSlotConcurrentExactlyOneWins(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)

	other := Patient{ID: uuid.New(), Name: "Bruno Costa"}
	repo.AddPatient(other)

	patients := []uuid.UUID{f.patient.ID, other.ID}
	results := make([]error, len(patients))

	var wg sync.WaitGroup
	for i, patientID := range patients {
		wg.Add(1)
		go func(i int, patientID uuid.UUID) {
			defer wg.Done()
			_, err := svc.ReserveSlot(context.Background(), ReserveSlotInput{
				ProfessionalID: f.professional.ID,
				SlotID:         f.slot.ID,
				PatientID:      patientID,
				Modality:       ModalityInPerson,
			})
			results[i] = err
		}(i, patientID)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotUnavailable):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Fatalf("successes=%d conflicts=%d, want exactly one of each", successes, conflicts)
	}

	slot, _ := repo.GetSlotByID(context.Background(), f.slot.ID)
	if slot.Status != SlotOccupied {
		t.Errorf("slot status = %s, want occupied", slot.Status)
	}
}

func TestReserveSlotValidation(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)

	t.Run("invalid modality", func(t *testing.T) {
		_, err := svc.ReserveSlot(context.Background(), ReserveSlotInput{
			ProfessionalID: f.professional.ID,
			SlotID:         f.slot.ID,
			PatientID:      f.patient.ID,
			Modality:       "telepatia",
		})
		if !errors.Is(err, ErrInvalidModality) {
			t.Fatalf("err = %v, want ErrInvalidModality", err)
		}
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := svc.ReserveSlot(context.Background(), ReserveSlotInput{
			ProfessionalID: f.professional.ID,
			SlotID:         uuid.New(),
			PatientID:      f.patient.ID,
			Modality:       ModalityOnline,
		})
		if !errors.Is(err, ErrSlotNotFound) {
			t.Fatalf("err = %v, want ErrSlotNotFound", err)
		}
	})

	t.Run("slot of another professional", func(t *testing.T) {
		_, err := svc.ReserveSlot(context.Background(), ReserveSlotInput{
			ProfessionalID: uuid.New(),
			SlotID:         f.slot.ID,
			PatientID:      f.patient.ID,
			Modality:       ModalityOnline,
		})
		if !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("err = %v, want ErrSlotUnavailable", err)
		}
	})
}

func TestReserveAtRejectsDuplicateTime(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)

	at := time.Now().UTC().AddDate(0, 0, 3).Truncate(time.Hour)

	first, err := svc.ReserveAt(context.Background(), ReserveTimeInput{
		ProfessionalID: f.professional.ID,
		PatientID:      f.patient.ID,
		At:             at,
		Modality:       ModalityOnline,
	})
	if err != nil {
		t.Fatalf("first ReserveAt: %v", err)
	}
	if first.Status != StatusPending {
		t.Errorf("status = %s, want pending", first.Status)
	}

	_, err = svc.ReserveAt(context.Background(), ReserveTimeInput{
		ProfessionalID: f.professional.ID,
		PatientID:      f.patient.ID,
		At:             at,
		Modality:       ModalityOnline,
	})
	if !errors.Is(err, ErrTimeTaken) {
		t.Fatalf("err = %v, want ErrTimeTaken", err)
	}
}

func TestCancelRequiresJustification(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	_, err := svc.Cancel(context.Background(), Actor{ID: f.patient.ID, Role: RolePatient}, detail.ID, "   ")
	if !errors.Is(err, ErrJustificationRequired) {
		t.Fatalf("err = %v, want ErrJustificationRequired", err)
	}

	booking, _ := repo.GetBookingByID(context.Background(), detail.ID)
	if booking.Status != StatusPending {
		t.Errorf("status changed to %s on failed cancel", booking.Status)
	}
}

func TestCancelFreesFutureSlot(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	cancelled, err := svc.Cancel(context.Background(),
		Actor{ID: f.patient.ID, Role: RolePatient}, detail.ID, "imprevisto de trabalho")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "imprevisto de trabalho" {
		t.Error("justification not recorded")
	}

	slot, _ := repo.GetSlotByID(context.Background(), f.slot.ID)
	if slot.Status != SlotFree {
		t.Errorf("slot status = %s, want free after cancel", slot.Status)
	}
	if slot.PatientID != nil {
		t.Error("slot patient not cleared")
	}
}

func TestCancelOwnershipAndTiming(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	t.Run("other patient forbidden", func(t *testing.T) {
		_, err := svc.Cancel(context.Background(), Actor{ID: uuid.New(), Role: RolePatient}, detail.ID, "motivo")
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("err = %v, want ErrForbidden", err)
		}
	})

	t.Run("patient cannot cancel past booking", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 30) }
		defer func() { svc.now = time.Now }()

		_, err := svc.Cancel(context.Background(), Actor{ID: f.patient.ID, Role: RolePatient}, detail.ID, "motivo")
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("err = %v, want ErrForbidden", err)
		}
	})

	t.Run("admin can cancel past booking", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 30) }
		defer func() { svc.now = time.Now }()

		cancelled, err := svc.Cancel(context.Background(), Actor{ID: uuid.New(), Role: RoleAdmin}, detail.ID, "falta")
		if err != nil {
			t.Fatalf("Cancel as admin: %v", err)
		}
		if cancelled.Status != StatusCancelled {
			t.Errorf("status = %s, want cancelled", cancelled.Status)
		}

		// Past slot keeps its occupied status for history.
		slot, _ := repo.GetSlotByID(context.Background(), f.slot.ID)
		if slot.Status != SlotOccupied {
			t.Errorf("past slot status = %s, want occupied", slot.Status)
		}
	})
}

func TestCancelTerminalBooking(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	if _, err := svc.Cancel(context.Background(), Actor{Role: RoleAdmin}, detail.ID, "primeira"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err := svc.Cancel(context.Background(), Actor{Role: RoleAdmin}, detail.ID, "segunda")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func addFutureSlot(repo *MemoryRepository, professionalID uuid.UUID, daysAhead int, start, end string) Slot {
	s := Slot{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		Date:           time.Now().UTC().AddDate(0, 0, daysAhead).Format("2006-01-02"),
		StartTime:      start,
		EndTime:        end,
		Status:         SlotFree,
	}
	repo.AddSlot(s)
	return s
}

func TestRescheduleSwapsSlots(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	newSlot := addFutureSlot(repo, f.professional.ID, 14, "10:00", "11:00")

	updated, err := svc.Reschedule(context.Background(),
		Actor{ID: f.patient.ID, Role: RolePatient}, detail.ID,
		RescheduleInput{SlotID: &newSlot.ID, Motive: "viagem"})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	if updated.RescheduleCount != 1 {
		t.Errorf("reschedule count = %d, want 1", updated.RescheduleCount)
	}
	if updated.SlotID == nil || *updated.SlotID != newSlot.ID {
		t.Error("booking not moved to new slot")
	}

	wantTime, _ := ResolveTimestamp(newSlot.Date, newSlot.StartTime, time.UTC)
	if !updated.ScheduledAt.Equal(wantTime) {
		t.Errorf("scheduled at = %v, want %v", updated.ScheduledAt, wantTime)
	}

	oldSlot, _ := repo.GetSlotByID(context.Background(), f.slot.ID)
	if oldSlot.Status != SlotFree {
		t.Errorf("old slot status = %s, want free", oldSlot.Status)
	}
	occupied, _ := repo.GetSlotByID(context.Background(), newSlot.ID)
	if occupied.Status != SlotOccupied {
		t.Errorf("new slot status = %s, want occupied", occupied.Status)
	}
}

func TestRescheduleLimitEnforced(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	actor := Actor{ID: f.patient.ID, Role: RolePatient}

	for i := 0; i < 3; i++ {
		slot := addFutureSlot(repo, f.professional.ID, 14+i, "10:00", "11:00")
		if _, err := svc.Reschedule(context.Background(), actor, detail.ID, RescheduleInput{SlotID: &slot.ID}); err != nil {
			t.Fatalf("reschedule %d: %v", i+1, err)
		}
	}

	before, _ := repo.GetBookingByID(context.Background(), detail.ID)

	extra := addFutureSlot(repo, f.professional.ID, 20, "10:00", "11:00")
	_, err := svc.Reschedule(context.Background(), actor, detail.ID, RescheduleInput{SlotID: &extra.ID})
	if !errors.Is(err, ErrRescheduleLimit) {
		t.Fatalf("err = %v, want ErrRescheduleLimit", err)
	}

	after, _ := repo.GetBookingByID(context.Background(), detail.ID)
	if after.RescheduleCount != 3 {
		t.Errorf("count = %d, want 3 after failed attempt", after.RescheduleCount)
	}
	if !after.ScheduledAt.Equal(before.ScheduledAt) {
		t.Error("timestamp mutated by failed reschedule")
	}
}

func TestRescheduleToTakenSlot(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	taken := addFutureSlot(repo, f.professional.ID, 14, "10:00", "11:00")
	taken.Status = SlotOccupied
	repo.AddSlot(taken)

	_, err := svc.Reschedule(context.Background(),
		Actor{ID: f.patient.ID, Role: RolePatient}, detail.ID,
		RescheduleInput{SlotID: &taken.ID})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}

	// Original reservation untouched.
	booking, _ := repo.GetBookingByID(context.Background(), detail.ID)
	if booking.RescheduleCount != 0 {
		t.Errorf("count = %d, want 0", booking.RescheduleCount)
	}
	oldSlot, _ := repo.GetSlotByID(context.Background(), f.slot.ID)
	if oldSlot.Status != SlotOccupied {
		t.Errorf("old slot status = %s, want occupied", oldSlot.Status)
	}
}

func TestRescheduleRequiresTarget(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	_, err := svc.Reschedule(context.Background(),
		Actor{ID: f.patient.ID, Role: RolePatient}, detail.ID, RescheduleInput{})
	if !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("err = %v, want ErrMissingTarget", err)
	}
}

func TestConfirmAndCompleteStaffOnly(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	patient := Actor{ID: f.patient.ID, Role: RolePatient}
	staff := Actor{ID: uuid.New(), Role: RoleProfessional}

	if _, err := svc.Confirm(context.Background(), patient, detail.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patient confirm err = %v, want ErrForbidden", err)
	}

	confirmed, err := svc.Confirm(context.Background(), staff, detail.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}

	// Confirming twice is an invalid transition.
	if _, err := svc.Confirm(context.Background(), staff, detail.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second confirm err = %v, want ErrInvalidTransition", err)
	}

	completed, err := svc.Complete(context.Background(), staff, detail.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}
}

func TestUpdateNotesStaffOnly(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	detail := reserveFixtureSlot(t, svc, f)

	patient := Actor{ID: f.patient.ID, Role: RolePatient}
	if _, err := svc.UpdateNotes(context.Background(), patient, detail.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	updated, err := svc.UpdateNotes(context.Background(), Actor{Role: RoleAdmin}, detail.ID, "paciente avisou atraso")
	if err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	if updated.Notes != "paciente avisou atraso" {
		t.Errorf("notes = %q", updated.Notes)
	}
}

func TestCompletePastBookings(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)

	past1 := &Booking{PatientID: f.patient.ID, ProfessionalID: f.professional.ID,
		ScheduledAt: time.Now().UTC().AddDate(0, 0, -2), Modality: ModalityOnline, Status: StatusPending}
	past2 := &Booking{PatientID: f.patient.ID, ProfessionalID: f.professional.ID,
		ScheduledAt: time.Now().UTC().AddDate(0, 0, -1), Modality: ModalityOnline, Status: StatusConfirmed}
	future := &Booking{PatientID: f.patient.ID, ProfessionalID: f.professional.ID,
		ScheduledAt: time.Now().UTC().AddDate(0, 0, 5), Modality: ModalityOnline, Status: StatusPending}

	for _, b := range []*Booking{past1, past2, future} {
		if err := repo.CreateBooking(context.Background(), b); err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
	}

	completed, err := svc.CompletePastBookings(context.Background())
	if err != nil {
		t.Fatalf("CompletePastBookings: %v", err)
	}
	if completed != 2 {
		t.Errorf("completed = %d, want 2", completed)
	}

	b, _ := repo.GetBookingByID(context.Background(), future.ID)
	if b.Status != StatusPending {
		t.Errorf("future booking status = %s, want pending", b.Status)
	}
}

func TestRegenerateSlotsPreservesOccupied(t *testing.T) {
	svc, repo := newTestService(t)
	f := seedFixture(repo)
	reserveFixtureSlot(t, svc, f)

	day, _ := time.Parse("2006-01-02", f.slot.Date)
	tmpl := AvailabilityTemplate{
		ProfessionalID:  f.professional.ID,
		IntervalMinutes: 60,
		Rules: []AvailabilityRule{
			{Weekday: day.Weekday(), StartTime: "09:00", EndTime: "12:00"},
		},
	}

	if _, err := svc.RegenerateSlots(context.Background(), tmpl, f.slot.Date, f.slot.Date); err != nil {
		t.Fatalf("RegenerateSlots: %v", err)
	}

	slots, err := repo.ListSlots(context.Background(), f.professional.ID, f.slot.Date, f.slot.Date, nil)
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}

	// 09-10 stays as the original occupied slot; 10-11 and 11-12 are new.
	if len(slots) != 3 {
		t.Fatalf("slot count = %d, want 3", len(slots))
	}
	if slots[0].ID != f.slot.ID || slots[0].Status != SlotOccupied {
		t.Error("occupied slot was not preserved by regeneration")
	}
	for _, s := range slots[1:] {
		if s.Status != SlotFree {
			t.Errorf("regenerated slot %s status = %s, want free", s.StartTime, s.Status)
		}
	}
}
