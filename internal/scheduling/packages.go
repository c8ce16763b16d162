package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreatePurchaseInput struct {
	PatientID      uuid.UUID
	ProfessionalID uuid.UUID
	TotalSessions  int
	FirstSlotID    uuid.UUID
}

var ErrInvalidSessionCount = errors.New("total sessions must be positive")

// CreatePackagePurchase registers a pending purchase ahead of payment.
// Activation and booking generation happen on the payment webhook.
func (s *Service) CreatePackagePurchase(ctx context.Context, in CreatePurchaseInput) (*PackagePurchase, error) {
	if in.TotalSessions <= 0 {
		return nil, ErrInvalidSessionCount
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetProfessionalByID(ctx, in.ProfessionalID); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, in.FirstSlotID)
	if err != nil {
		return nil, err
	}
	if slot.ProfessionalID != in.ProfessionalID || slot.Status != SlotFree {
		return nil, ErrSlotUnavailable
	}

	purchase := &PackagePurchase{
		PatientID:      in.PatientID,
		ProfessionalID: in.ProfessionalID,
		TotalSessions:  in.TotalSessions,
		Status:         PurchasePending,
		FirstSlotID:    &slot.ID,
		ExpiresAt:      s.now().AddDate(0, 0, s.cfg.PackageValidityDays),
	}

	if err := s.repo.CreatePurchase(ctx, purchase); err != nil {
		return nil, err
	}

	return purchase, nil
}

func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (*PackagePurchase, error) {
	return s.repo.GetPurchaseByID(ctx, id)
}

// ActivateAndExpand activates a purchase after payment approval and
// projects its sessions into weekly bookings starting from the first slot.
// Individual slot conflicts are collected per session index and never abort
// the run. The bookings-generated flag is claimed up front, so redelivered
// webhook events turn the whole call into an empty-success no-op.
func (s *Service) ActivateAndExpand(ctx context.Context, purchaseID uuid.UUID) (*ExpansionReport, error) {
	purchase, err := s.repo.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	switch purchase.Status {
	case PurchasePending:
		activated, err := s.repo.ActivatePurchase(ctx, purchaseID)
		if err != nil {
			if errors.Is(err, ErrPurchaseNotFound) {
				// Lost a concurrent activation; the claim below decides
				// who expands.
				activated, err = s.repo.GetPurchaseByID(ctx, purchaseID)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		purchase = activated
	case PurchaseActive:
		// Redelivery after a crash between activate and expand.
	default:
		return nil, ErrInvalidTransition
	}

	claimed, err := s.repo.ClaimPurchaseExpansion(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		s.log.Info("purchase already expanded, skipping",
			zap.String("purchase_id", purchaseID.String()),
		)
		return &ExpansionReport{Success: true, CreatedBookingIDs: []uuid.UUID{}, Errors: []string{}}, nil
	}

	report := s.expandPurchase(ctx, purchase)

	if err := s.repo.SetPurchaseSessionsUsed(ctx, purchaseID, len(report.CreatedBookingIDs)); err != nil {
		s.log.Error("failed to record sessions used",
			zap.String("purchase_id", purchaseID.String()),
			zap.Error(err),
		)
	}

	s.logPackageEvent(ctx, purchase, report)

	return report, nil
}

func (s *Service) expandPurchase(ctx context.Context, purchase *PackagePurchase) *ExpansionReport {
	report := &ExpansionReport{
		Success:           true,
		CreatedBookingIDs: []uuid.UUID{},
		Errors:            []string{},
	}

	if purchase.FirstSlotID == nil {
		for i := 1; i <= purchase.TotalSessions; i++ {
			report.Errors = append(report.Errors, fmt.Sprintf("Sessão %d: compra sem horário inicial", i))
		}
		return report
	}

	firstSlot, err := s.repo.GetSlotByID(ctx, *purchase.FirstSlotID)
	if err != nil {
		for i := 1; i <= purchase.TotalSessions; i++ {
			report.Errors = append(report.Errors, fmt.Sprintf("Sessão %d: %v", i, err))
		}
		return report
	}

	firstDate, err := time.ParseInLocation(dateLayout, firstSlot.Date, s.loc)
	if err != nil {
		for i := 1; i <= purchase.TotalSessions; i++ {
			report.Errors = append(report.Errors, fmt.Sprintf("Sessão %d: %v", i, err))
		}
		return report
	}

	for i := 0; i < purchase.TotalSessions; i++ {
		session := i + 1
		date := firstDate.AddDate(0, 0, 7*i).Format(dateLayout)

		booking, err := s.reserveSessionSlot(ctx, purchase, date, firstSlot.StartTime)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Sessão %d: %v", session, err))
			continue
		}
		report.CreatedBookingIDs = append(report.CreatedBookingIDs, booking.ID)
	}

	return report
}

// reserveSessionSlot finds the slot at the package's weekly cadence and
// runs the same occupy-then-insert reservation as ReserveSlot.
func (s *Service) reserveSessionSlot(ctx context.Context, purchase *PackagePurchase, date, startTime string) (*Booking, error) {
	slot, err := s.repo.FindSlotAt(ctx, purchase.ProfessionalID, date, startTime)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrTimeTaken
		}
		return nil, err
	}
	if slot.Status != SlotFree {
		return nil, ErrTimeTaken
	}

	if err := s.repo.OccupySlot(ctx, slot.ID, purchase.ProfessionalID, purchase.PatientID); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, ErrTimeTaken
		}
		return nil, err
	}

	scheduledAt, err := ResolveTimestamp(slot.Date, slot.StartTime, s.loc)
	if err != nil {
		return nil, err
	}

	booking := &Booking{
		PatientID:      purchase.PatientID,
		ProfessionalID: purchase.ProfessionalID,
		ScheduledAt:    scheduledAt,
		Modality:       ModalityInPerson,
		Status:         StatusPending,
		PackageID:      &purchase.ID,
		SlotID:         &slot.ID,
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		s.log.Error("package booking insert failed after slot occupy",
			zap.String("slot_id", slot.ID.String()),
			zap.String("purchase_id", purchase.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logEvent(ctx, booking.ID, EventBookingCreated, map[string]any{
		"slot_id":    slot.ID.String(),
		"package_id": purchase.ID.String(),
	})

	return booking, nil
}

func (s *Service) logPackageEvent(ctx context.Context, purchase *PackagePurchase, report *ExpansionReport) {
	payload, err := json.Marshal(map[string]any{
		"purchase_id": purchase.ID.String(),
		"created":     len(report.CreatedBookingIDs),
		"errors":      report.Errors,
	})
	if err != nil {
		payload = nil
	}

	ev := EventLog{
		EventType: EventPackageExpanded,
		Payload:   payload,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert package event",
			zap.String("purchase_id", purchase.ID.String()),
			zap.Error(err),
		)
	}
}
