package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type PatientRequest struct {
	Name  string  `json:"name" validate:"required,max=100"`
	Phone string  `json:"phone" validate:"required,max=30"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type CreateReservationRequest struct {
	ServiceCode string         `json:"serviceCode" validate:"required"`
	Date        string         `json:"date" validate:"required,datetime=2006-01-02"`
	SlotStart   string         `json:"slotStart" validate:"required,timeofday"`
	Patient     PatientRequest `json:"patient"`
	Notes       *string        `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type TransitionRequest struct {
	Status       string `json:"status" validate:"required,oneof=PENDING CONFIRMED COMPLETED CANCELLED NO_SHOW"`
	CancelReason string `json:"cancelReason,omitempty" validate:"max=500"`
}

type UpdateDetailsRequest struct {
	PatientName  *string `json:"patientName,omitempty" validate:"omitempty,max=100"`
	PatientPhone *string `json:"patientPhone,omitempty" validate:"omitempty,max=30"`
	PatientEmail *string `json:"patientEmail,omitempty" validate:"omitempty,email"`
	Notes        *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	AdminNotes   *string `json:"adminNotes,omitempty" validate:"omitempty,max=1000"`
	ServiceCode  *string `json:"serviceCode,omitempty"`
}

type RescheduleRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	SlotStart string `json:"slotStart" validate:"required,timeofday"`
}

type CascadePreviewRequest struct {
	ServiceCode        string `json:"serviceCode" validate:"required"`
	OldDurationMinutes *int   `json:"oldDurationMinutes,omitempty"`
	NewDurationMinutes int    `json:"newDurationMinutes" validate:"required"`
}

type UpdateDurationRequest struct {
	DurationMinutes int `json:"durationMinutes" validate:"required"`
}

type ServiceResponse struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	BufferMinutes   int    `json:"bufferMinutes"`
	TotalMinutes    int    `json:"totalMinutes"`
	DisplayOrder    int    `json:"displayOrder"`
}

type SlotResponse struct {
	Date              string  `json:"date"`
	ServiceCode       string  `json:"serviceCode"`
	Period            string  `json:"period"`
	Start             string  `json:"start"`
	End               string  `json:"end"`
	Available         bool    `json:"available"`
	UnavailableReason *string `json:"unavailableReason,omitempty"`
}

type SlotsMetadataResponse struct {
	ServiceName       string `json:"serviceName"`
	DurationMinutes   int    `json:"durationMinutes"`
	TotalMinutes      int    `json:"totalMinutes"`
	DailyLimitMinutes *int   `json:"dailyLimitMinutes,omitempty"`
	CommittedMinutes  int    `json:"committedMinutes"`
}

type SlotsResponse struct {
	Slots    []SlotResponse            `json:"slots"`
	ByPeriod map[string][]SlotResponse `json:"byPeriod"`
	Metadata SlotsMetadataResponse     `json:"metadata"`
}

type ReservationResponse struct {
	ID              uuid.UUID  `json:"id"`
	ServiceCode     string     `json:"serviceCode"`
	Date            string     `json:"date"`
	SlotStart       string     `json:"slotStart"`
	SlotEnd         string     `json:"slotEnd"`
	BufferMinutes   int        `json:"bufferMinutes"`
	Period          string     `json:"period"`
	Status          string     `json:"status"`
	PatientName     string     `json:"patientName"`
	PatientPhone    string     `json:"patientPhone"`
	PatientEmail    *string    `json:"patientEmail,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	AdminNotes      *string    `json:"adminNotes,omitempty"`
	CancelReason    *string    `json:"cancelReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StatusChangedAt *time.Time `json:"statusChangedAt,omitempty"`
}

type CascadeWarningResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CascadeEffectResponse struct {
	ServiceCode             string                   `json:"serviceCode"`
	OldDurationMinutes      int                      `json:"oldDurationMinutes"`
	NewDurationMinutes      int                      `json:"newDurationMinutes"`
	DailyLimitMinutes       *int                     `json:"dailyLimitMinutes,omitempty"`
	MaxBookingsBefore       *int                     `json:"maxBookingsBefore,omitempty"`
	MaxBookingsAfter        *int                     `json:"maxBookingsAfter,omitempty"`
	Change                  string                   `json:"change"`
	FutureReservationsCount int                      `json:"futureReservationsCount"`
	Warnings                []CascadeWarningResponse `json:"warnings"`
}

type UpdateDurationResponse struct {
	Service ServiceResponse       `json:"service"`
	Effect  CascadeEffectResponse `json:"effect"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toServiceResponse(s scheduling.Service) ServiceResponse {
	return ServiceResponse{
		Code:            s.Code,
		Name:            s.Name,
		DurationMinutes: s.DurationMinutes,
		BufferMinutes:   s.BufferMinutes,
		TotalMinutes:    s.TotalMinutes(),
		DisplayOrder:    s.DisplayOrder,
	}
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	resp := SlotResponse{
		Date:        s.Date.Format(scheduling.DateFormat),
		ServiceCode: s.ServiceCode,
		Period:      string(s.Period),
		Start:       s.Start.String(),
		End:         s.End.String(),
		Available:   s.Available,
	}
	if s.UnavailableReason != nil {
		reason := string(*s.UnavailableReason)
		resp.UnavailableReason = &reason
	}
	return resp
}

func toSlotsResponse(res *scheduling.SlotsResult) SlotsResponse {
	resp := SlotsResponse{
		Slots:    make([]SlotResponse, 0, len(res.Slots)),
		ByPeriod: make(map[string][]SlotResponse),
		Metadata: SlotsMetadataResponse{
			ServiceName:       res.Metadata.ServiceName,
			DurationMinutes:   res.Metadata.DurationMinutes,
			TotalMinutes:      res.Metadata.TotalMinutes,
			DailyLimitMinutes: res.Metadata.DailyLimitMinutes,
			CommittedMinutes:  res.Metadata.CommittedMinutes,
		},
	}
	for _, s := range res.Slots {
		resp.Slots = append(resp.Slots, toSlotResponse(s))
	}
	for period, slots := range res.ByPeriod() {
		for _, s := range slots {
			resp.ByPeriod[string(period)] = append(resp.ByPeriod[string(period)], toSlotResponse(s))
		}
	}
	return resp
}

func toReservationResponse(r *scheduling.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:              r.ID,
		ServiceCode:     r.ServiceCode,
		Date:            r.Date.Format(scheduling.DateFormat),
		SlotStart:       r.SlotStart.String(),
		SlotEnd:         r.SlotEnd.String(),
		BufferMinutes:   r.BufferMinutes,
		Period:          string(r.Period),
		Status:          string(r.Status),
		PatientName:     r.Patient.Name,
		PatientPhone:    r.Patient.Phone,
		PatientEmail:    r.Patient.Email,
		Notes:           r.Notes,
		AdminNotes:      r.AdminNotes,
		CancelReason:    r.CancelReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		StatusChangedAt: r.StatusChangedAt,
	}
}

func toCascadeResponse(e *scheduling.CascadeEffect) CascadeEffectResponse {
	resp := CascadeEffectResponse{
		ServiceCode:             e.ServiceCode,
		OldDurationMinutes:      e.OldDurationMinutes,
		NewDurationMinutes:      e.NewDurationMinutes,
		DailyLimitMinutes:       e.DailyLimitMinutes,
		MaxBookingsBefore:       e.MaxBookingsBefore,
		MaxBookingsAfter:        e.MaxBookingsAfter,
		Change:                  string(e.Change),
		FutureReservationsCount: e.FutureReservationsCount,
		Warnings:                make([]CascadeWarningResponse, 0, len(e.Warnings)),
	}
	for _, w := range e.Warnings {
		resp.Warnings = append(resp.Warnings, CascadeWarningResponse{Code: w.Code, Message: w.Message})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
