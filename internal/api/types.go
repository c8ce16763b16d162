package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type AvailabilityRuleRequest struct {
	DiaSemana int    `json:"diaSemana"` // 0 = Sunday ... 6 = Saturday
	Inicio    string `json:"inicio"`    // HH:MM
	Fim       string `json:"fim"`       // HH:MM
}

type AvailabilityRequest struct {
	Regras           []AvailabilityRuleRequest `json:"regras"`
	IntervaloMinutos int                       `json:"intervaloMinutos"`
	De               string                    `json:"de"`  // YYYY-MM-DD
	Ate              string                    `json:"ate"` // YYYY-MM-DD
}

type SlotResponse struct {
	ID             uuid.UUID `json:"id"`
	ProfissionalID uuid.UUID `json:"profissionalId"`
	Data           string    `json:"data"`
	Inicio         string    `json:"inicio"`
	Fim            string    `json:"fim"`
	Status         string    `json:"status"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		ProfissionalID: s.ProfessionalID,
		Data:           s.Date,
		Inicio:         s.StartTime,
		Fim:            s.EndTime,
		Status:         string(s.Status),
	}
}

type CreateBookingRequest struct {
	ProfissionalID string `json:"profissionalId"`
	UsuarioID      string `json:"usuarioId"`
	SlotID         string `json:"slotId,omitempty"`
	DataISO        string `json:"dataISO,omitempty"`
	Modalidade     string `json:"modalidade"`
	Notas          string `json:"notas,omitempty"`
}

type BookingData struct {
	ID                uuid.UUID `json:"id"`
	UsuarioID         uuid.UUID `json:"usuarioId"`
	ProfissionalID    uuid.UUID `json:"profissionalId"`
	DataISO           time.Time `json:"dataISO"`
	Status            string    `json:"status"`
	Notas             string    `json:"notas"`
	Modalidade        string    `json:"modalidade"`
	Remarcacoes       int       `json:"remarcacoes"`
	ProfissionalNome  string    `json:"profissionalNome,omitempty"`
	Especialidade     string    `json:"especialidade,omitempty"`
	JustificativaCanc string    `json:"justificativaCancelamento,omitempty"`
}

func toBookingData(b scheduling.Booking) BookingData {
	data := BookingData{
		ID:             b.ID,
		UsuarioID:      b.PatientID,
		ProfissionalID: b.ProfessionalID,
		DataISO:        b.ScheduledAt,
		Status:         string(b.Status),
		Notas:          b.Notes,
		Modalidade:     string(b.Modality),
		Remarcacoes:    b.RescheduleCount,
	}
	if b.CancelReason != nil {
		data.JustificativaCanc = *b.CancelReason
	}
	return data
}

func toBookingDetailData(d *scheduling.BookingDetail) BookingData {
	data := toBookingData(d.Booking)
	if d.Professional != nil {
		data.ProfissionalNome = d.Professional.Name
		if d.Professional.Specialty != nil {
			data.Especialidade = *d.Professional.Specialty
		}
	}
	return data
}

type CancelBookingRequest struct {
	Justificativa string `json:"justificativa"`
}

type RescheduleBookingRequest struct {
	SlotID  string `json:"slotId,omitempty"`
	DataISO string `json:"dataISO,omitempty"`
	Motivo  string `json:"motivo,omitempty"`
}

type UpdateNotesRequest struct {
	Notas string `json:"notas"`
}

type CreatePackageRequest struct {
	UsuarioID      string `json:"usuarioId"`
	ProfissionalID string `json:"profissionalId"`
	TotalSessoes   int    `json:"totalSessoes"`
	SlotID         string `json:"slotId"`
}

type PackageData struct {
	ID                  uuid.UUID  `json:"id"`
	UsuarioID           uuid.UUID  `json:"usuarioId"`
	ProfissionalID      uuid.UUID  `json:"profissionalId"`
	TotalSessoes        int        `json:"totalSessoes"`
	SessoesUtilizadas   int        `json:"sessoesUtilizadas"`
	Status              string     `json:"status"`
	AgendamentosCriados bool       `json:"agendamentosCriados"`
	ValidoAte           time.Time  `json:"validoAte"`
	PrimeiroSlotID      *uuid.UUID `json:"primeiroSlotId,omitempty"`
}

func toPackageData(p *scheduling.PackagePurchase) PackageData {
	return PackageData{
		ID:                  p.ID,
		UsuarioID:           p.PatientID,
		ProfissionalID:      p.ProfessionalID,
		TotalSessoes:        p.TotalSessions,
		SessoesUtilizadas:   p.SessionsUsed,
		Status:              string(p.Status),
		AgendamentosCriados: p.BookingsGenerated,
		ValidoAte:           p.ExpiresAt,
		PrimeiroSlotID:      p.FirstSlotID,
	}
}
