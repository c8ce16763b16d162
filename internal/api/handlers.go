package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

func putAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "id must be a valid UUID")
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if len(req.Regras) == 0 {
			writeError(w, http.StatusBadRequest, "missing_rules", "at least one availability rule is required")
			return
		}
		if req.De == "" || req.Ate == "" {
			writeError(w, http.StatusBadRequest, "missing_range", "de and ate dates are required")
			return
		}

		tmpl := scheduling.AvailabilityTemplate{
			ProfessionalID:  professionalID,
			IntervalMinutes: req.IntervaloMinutos,
		}
		for _, rule := range req.Regras {
			if rule.DiaSemana < 0 || rule.DiaSemana > 6 {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "diaSemana must be between 0 and 6")
				return
			}
			tmpl.Rules = append(tmpl.Rules, scheduling.AvailabilityRule{
				Weekday:   time.Weekday(rule.DiaSemana),
				StartTime: rule.Inicio,
				EndTime:   rule.Fim,
			})
		}

		slots, err := svc.RegenerateSlots(r.Context(), tmpl, req.De, req.Ate)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}

		writeData(w, http.StatusOK, resp)
	}
}

func listSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "id must be a valid UUID")
			return
		}

		q := r.URL.Query()
		from := q.Get("from")
		to := q.Get("to")
		if from == "" {
			from = time.Now().In(svc.Location()).Format("2006-01-02")
		}
		if to == "" {
			to = time.Now().In(svc.Location()).AddDate(0, 0, 30).Format("2006-01-02")
		}

		var status *scheduling.SlotStatus
		if s := q.Get("status"); s != "" {
			st := scheduling.SlotStatus(s)
			status = &st
		}

		slots, err := svc.ListSlots(r.Context(), professionalID, from, to, status)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}

		writeData(w, http.StatusOK, resp)
	}
}

func createBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		professionalID, err := uuid.Parse(req.ProfissionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "profissionalId must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.UsuarioID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "usuarioId must be a valid UUID")
			return
		}

		var detail *scheduling.BookingDetail

		switch {
		case req.SlotID != "":
			slotID, err := uuid.Parse(req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
				return
			}
			detail, err = svc.ReserveSlot(r.Context(), scheduling.ReserveSlotInput{
				ProfessionalID: professionalID,
				SlotID:         slotID,
				PatientID:      patientID,
				Modality:       scheduling.Modality(req.Modalidade),
				Notes:          req.Notas,
			})
			if err != nil {
				handleDomainError(w, err)
				return
			}
		case req.DataISO != "":
			at, err := time.Parse(time.RFC3339, req.DataISO)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_timestamp", "dataISO must be RFC3339")
				return
			}
			detail, err = svc.ReserveAt(r.Context(), scheduling.ReserveTimeInput{
				ProfessionalID: professionalID,
				PatientID:      patientID,
				At:             at,
				Modality:       scheduling.Modality(req.Modalidade),
				Notes:          req.Notas,
			})
			if err != nil {
				handleDomainError(w, err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "missing_target", "slotId or dataISO is required")
			return
		}

		writeData(w, http.StatusCreated, toBookingDetailData(detail))
	}
}

func getBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusOK, toBookingDetailData(detail))
	}
}

func listBookingsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := intQuery(q.Get("limit"), 20)
		offset := intQuery(q.Get("offset"), 0)

		var (
			details []scheduling.BookingDetail
			err     error
		)

		switch {
		case q.Get("patientId") != "":
			patientID, parseErr := uuid.Parse(q.Get("patientId"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
				return
			}
			details, err = svc.ListBookingsByPatient(r.Context(), patientID, limit, offset)
		case q.Get("professionalId") != "":
			professionalID, parseErr := uuid.Parse(q.Get("professionalId"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_professional_id", "professionalId must be a valid UUID")
				return
			}
			details, err = svc.ListBookingsByProfessional(r.Context(), professionalID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patientId or professionalId is required")
			return
		}

		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]BookingData, 0, len(details))
		for i := range details {
			resp = append(resp, toBookingDetailData(&details[i]))
		}

		writeData(w, http.StatusOK, resp)
	}
}

func cancelBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		var req CancelBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		booking, err := svc.Cancel(r.Context(), actorFromRequest(r), id, req.Justificativa)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusOK, toBookingData(*booking))
	}
}

func rescheduleBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		var req RescheduleBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := scheduling.RescheduleInput{Motive: req.Motivo}
		if req.SlotID != "" {
			slotID, err := uuid.Parse(req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
				return
			}
			in.SlotID = &slotID
		} else if req.DataISO != "" {
			at, err := time.Parse(time.RFC3339, req.DataISO)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_timestamp", "dataISO must be RFC3339")
				return
			}
			in.At = &at
		}

		booking, err := svc.Reschedule(r.Context(), actorFromRequest(r), id, in)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusOK, toBookingData(*booking))
	}
}

func confirmBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(svc, func(svc *scheduling.Service, r *http.Request, id uuid.UUID) (*scheduling.Booking, error) {
		return svc.Confirm(r.Context(), actorFromRequest(r), id)
	})
}

func completeBookingHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(svc, func(svc *scheduling.Service, r *http.Request, id uuid.UUID) (*scheduling.Booking, error) {
		return svc.Complete(r.Context(), actorFromRequest(r), id)
	})
}

func transitionHandler(svc *scheduling.Service, fn func(*scheduling.Service, *http.Request, uuid.UUID) (*scheduling.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		booking, err := fn(svc, r, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusOK, toBookingData(*booking))
	}
}

func updateNotesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		var req UpdateNotesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		booking, err := svc.UpdateNotes(r.Context(), actorFromRequest(r), id, req.Notas)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeData(w, http.StatusOK, toBookingData(*booking))
	}
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidModality):
		writeError(w, http.StatusBadRequest, "invalid_modality", err.Error())
	case errors.Is(err, scheduling.ErrJustificationRequired):
		writeError(w, http.StatusBadRequest, "justification_required", err.Error())
	case errors.Is(err, scheduling.ErrMissingTarget):
		writeError(w, http.StatusBadRequest, "missing_target", err.Error())
	case errors.Is(err, scheduling.ErrInvalidSessionCount):
		writeError(w, http.StatusBadRequest, "invalid_session_count", err.Error())
	case errors.Is(err, scheduling.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrProfessionalNotFound):
		writeError(w, http.StatusNotFound, "professional_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPurchaseNotFound):
		writeError(w, http.StatusNotFound, "purchase_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrTimeTaken):
		writeError(w, http.StatusConflict, "time_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrTimeBeingBooked):
		writeError(w, http.StatusConflict, "time_being_booked", err.Error())
	case errors.Is(err, scheduling.ErrRescheduleLimit):
		writeError(w, http.StatusConflict, "reschedule_limit_reached", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error, try again later")
	}
}
