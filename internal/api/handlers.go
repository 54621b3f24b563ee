package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type Handlers struct {
	sched    *scheduling.Scheduler
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandlers(sched *scheduling.Scheduler, log zerolog.Logger) *Handlers {
	v := validator.New()
	_ = v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
		_, err := scheduling.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})

	return &Handlers{
		sched:    sched,
		validate: v,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_RESERVATION_ID", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.sched.ListServices(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := make([]ServiceResponse, 0, len(svcs))
	for _, s := range svcs {
		resp = append(resp, toServiceResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetSlots(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("serviceCode")
	if code == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "serviceCode is required")
		return
	}
	date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
		return
	}

	res, err := h.sched.ComputeSlots(r.Context(), code, date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotsResponse(res))
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := scheduling.ParseDate(req.Date)
	start, _ := scheduling.ParseTimeOfDay(req.SlotStart)

	res, err := h.sched.Admit(r.Context(), scheduling.AdmissionRequest{
		ServiceCode: req.ServiceCode,
		Date:        date,
		SlotStart:   start,
		Patient: scheduling.PatientInfo{
			Name:  req.Patient.Name,
			Phone: req.Patient.Phone,
			Email: req.Patient.Email,
		},
		Notes: req.Notes,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("serviceCode")
	date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
	if code == "" || err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "serviceCode and date (YYYY-MM-DD) are required")
		return
	}

	rows, err := h.sched.ListReservations(r.Context(), code, date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := make([]ReservationResponse, 0, len(rows))
	for i := range rows {
		resp = append(resp, toReservationResponse(&rows[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	res, err := h.sched.GetReservation(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) TransitionReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.sched.Transition(r.Context(), id, scheduling.Status(req.Status), req.CancelReason, CanManage(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) UpdateReservationDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	var req UpdateDetailsRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.sched.UpdateDetails(r.Context(), id, scheduling.DetailsPatch{
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		PatientEmail: req.PatientEmail,
		Notes:        req.Notes,
		AdminNotes:   req.AdminNotes,
		ServiceCode:  req.ServiceCode,
	}, CanManage(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) RescheduleReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := scheduling.ParseDate(req.Date)
	start, _ := scheduling.ParseTimeOfDay(req.SlotStart)

	res, err := h.sched.Reschedule(r.Context(), id, date, start)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) CascadePreview(w http.ResponseWriter, r *http.Request) {
	var req CascadePreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		effect *scheduling.CascadeEffect
		err    error
	)
	if req.OldDurationMinutes != nil {
		effect, err = h.sched.CalculateCascade(r.Context(), req.ServiceCode, *req.OldDurationMinutes, req.NewDurationMinutes)
	} else {
		effect, err = h.sched.PreviewCascade(r.Context(), req.ServiceCode, req.NewDurationMinutes)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCascadeResponse(effect))
}

func (h *Handlers) UpdateServiceDuration(w http.ResponseWriter, r *http.Request) {
	var req UpdateDurationRequest
	if !h.decode(w, r, &req) {
		return
	}

	effect, svc, err := h.sched.UpdateServiceDuration(r.Context(), chi.URLParam(r, "code"), req.DurationMinutes, CanManage(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateDurationResponse{
		Service: toServiceResponse(*svc),
		Effect:  toCascadeResponse(effect),
	})
}

// handleError maps an engine error to its HTTP status by category and writes
// the reason code.
func (h *Handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := scheduling.ReasonCode(err)

	var status int
	switch scheduling.CategoryOf(err) {
	case scheduling.CategoryValidation:
		status = http.StatusUnprocessableEntity
	case scheduling.CategoryContention, scheduling.CategoryState:
		status = http.StatusConflict
	case scheduling.CategoryNotFound:
		status = http.StatusNotFound
	case scheduling.CategoryForbidden:
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
		if code == "TIMEOUT" {
			status = http.StatusGatewayTimeout
		}
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, code, "internal error")
		return
	}

	writeError(w, status, code, err.Error())
}
