package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaclin/clinic-scheduling/internal/payments"
	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

const maxWebhookBody = 64 * 1024

func createPackageHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePackageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.UsuarioID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "usuarioId must be a valid UUID")
			return
		}
		professionalID, err := uuid.Parse(req.ProfissionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "profissionalId must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
			return
		}

		purchase, err := svc.CreatePackagePurchase(r.Context(), scheduling.CreatePurchaseInput{
			PatientID:      patientID,
			ProfessionalID: professionalID,
			TotalSessions:  req.TotalSessoes,
			FirstSlotID:    slotID,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusCreated, toPackageData(purchase))
	}
}

func getPackageHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_purchase_id", "id must be a valid UUID")
			return
		}

		purchase, err := svc.GetPurchase(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusOK, toPackageData(purchase))
	}
}

// paymentWebhookHandler receives the payment provider's signed events. Only
// checkout.session.completed activates a purchase; everything else is
// acknowledged and dropped. Redelivered events are absorbed by the
// expander's idempotency claim.
func paymentWebhookHandler(svc *scheduling.Service, verifier *payments.WebhookVerifier, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read payload")
			return
		}

		activation, ok, err := verifier.ParseActivation(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, payments.ErrBadSignature) {
				writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
				return
			}
			log.Warn("webhook event rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
			return
		}
		if !ok {
			// Event type we do not handle; acknowledge so the provider
			// stops redelivering.
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		report, err := svc.ActivateAndExpand(r.Context(), activation.PurchaseID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		log.Info("package activated",
			zap.String("purchase_id", activation.PurchaseID.String()),
			zap.Int("created", len(report.CreatedBookingIDs)),
			zap.Int("errors", len(report.Errors)),
		)

		writeJSON(w, http.StatusOK, report)
	}
}
