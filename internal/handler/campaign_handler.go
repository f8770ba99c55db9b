package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/service"
)

// Handler holds the dependencies for the campaign and template HTTP API.
type Handler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/campaigns", h.CreateCampaign)
	r.Get("/campaigns", h.ListCampaigns)
	r.Get("/campaigns/{id}", h.GetCampaign)
	r.Post("/campaigns/{id}/submit", h.SubmitCampaign)
	r.Post("/campaigns/{id}/cancel", h.CancelCampaign)
	r.Post("/campaigns/{id}/archive", h.ArchiveCampaign)

	r.Post("/templates", h.CreateTemplate)
	r.Get("/templates", h.ListTemplates)
	r.Delete("/templates/{id}", h.DeleteTemplate)
	r.Post("/templates/{id}/preview", h.PreviewTemplate)

	r.Get("/overview", h.Overview)

	return r
}

type campaignPayload struct {
	Title           string            `json:"title"`
	Body            string            `json:"body"`
	TemplateID      string            `json:"template_id"`
	Bindings        map[string]string `json:"bindings"`
	Type            string            `json:"type"`
	Priority        string            `json:"priority"`
	Channels        []string          `json:"channels"`
	Target          model.TargetSpec  `json:"target"`
	Schedule        model.Schedule    `json:"schedule"`
	IntervalSeconds float64           `json:"interval_seconds"`
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body campaignPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	channels := make([]model.Channel, len(body.Channels))
	for i, ch := range body.Channels {
		channels[i] = model.Channel(ch)
	}
	spec := service.CampaignSpec{
		Title:      body.Title,
		Body:       body.Body,
		TemplateID: body.TemplateID,
		Bindings:   body.Bindings,
		Type:       body.Type,
		Priority:   model.Priority(body.Priority),
		Channels:   channels,
		Target:     body.Target,
		Schedule:   body.Schedule,
		Interval:   time.Duration(body.IntervalSeconds * float64(time.Second)),
	}

	campaign, err := h.Service.CreateCampaign(spec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")
	priority := r.URL.Query().Get("priority")
	ctype := r.URL.Query().Get("type")

	campaigns, pagination, err := h.Service.ListCampaigns(page, pageSize, status, priority, ctype)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.Service.GetCampaignStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) SubmitCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.SubmitCampaign(id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.StatusPending)})
}

func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.CancelCampaign(id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
}

func (h *Handler) ArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.ArchiveCampaign(id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "archived": "true"})
}

type templatePayload struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	TitlePattern string `json:"title_pattern"`
	BodyPattern  string `json:"body_pattern"`
	Personalized bool   `json:"personalized"`
}

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body templatePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.Service.Templates.CreateTemplate(body.Name, model.TemplateType(body.Type), body.TitlePattern, body.BodyPattern, body.Personalized)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Service.Templates.ListTemplates()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": templates})
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Templates.DeleteTemplate(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Bindings        map[string]string `json:"bindings"`
		SampleRecipient string            `json:"sample_recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	title, rendered, err := h.Service.RenderPreview(chi.URLParam(r, "id"), body.Bindings, body.SampleRecipient)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title, "body": rendered})
}

func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Poller.Overview())
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var invalid *apperrors.ErrInvalidSpec
	var missing *apperrors.ErrMissingBinding
	var campaignNotFound *apperrors.ErrCampaignNotFound
	var templateNotFound *apperrors.ErrTemplateNotFound
	var inUse *apperrors.ErrTemplateInUse
	switch {
	case errors.As(err, &invalid), errors.As(err, &missing):
		status = http.StatusBadRequest
	case errors.As(err, &campaignNotFound), errors.As(err, &templateNotFound):
		status = http.StatusNotFound
	case errors.As(err, &inUse):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
