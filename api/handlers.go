package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"property-sync/ingest"
	"property-sync/models"
	"property-sync/services"
	"property-sync/storage"
)

const maxBodyBytes = 1 << 20

type resolveRequest struct {
	IDs any `json:"ids"`
}

type resolveResponse struct {
	services.Resolution
	Error string `json:"error,omitempty"`
}

type createSelectionRequest struct {
	Name           string   `json:"name" validate:"required"`
	Description    string   `json:"description"`
	BrokerPhone    string   `json:"brokerPhone"`
	ClientID       string   `json:"clientId"`
	PropertyIDs    []string `json:"propertyIds" validate:"min=1,dive,required"`
	ExpiresInHours int      `json:"expiresInHours" validate:"gte=0"`
}

type reactionRequest struct {
	PropertyID string `json:"propertyId" validate:"required"`
	Reaction   string `json:"reaction" validate:"required,oneof=like dislike"`
}

type propertiesResponse struct {
	Count      int               `json:"count"`
	Properties []models.Property `json:"properties"`
}

type healthResponse struct {
	Status     string    `json:"status"`
	Phase      string    `json:"phase"`
	Properties int       `json:"properties"`
	LastSync   time.Time `json:"lastSync,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Phase:      string(s.cache.Phase()),
		Properties: len(s.cache.GetAll()),
		LastSync:   s.cache.LastSync(),
	}
	if err := s.cache.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res := s.cache.Sync(r.Context())
	if res.Err != nil {
		writeJSONError(w, http.StatusBadGateway, res.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := s.dataset(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	q := r.URL.Query()
	props = services.Search(services.FilterByStatus(props, q.Get("status")), q.Get("q"))
	respondWithJSON(w, http.StatusOK, propertiesResponse{Count: len(props), Properties: props})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	if _, err := s.dataset(r.Context()); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	p, ok := s.cache.Lookup(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("property %q not found", id))
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	props, err := s.dataset(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	res := services.ResolveRaw(req.IDs, props)
	observeResolution(res)
	s.writeResolution(w, res)
}

func (s *Server) handleCreateSelection(w http.ResponseWriter, r *http.Request) {
	var req createSelectionRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	sel := &models.Selection{
		Name:        req.Name,
		Description: req.Description,
		BrokerPhone: req.BrokerPhone,
		ClientID:    req.ClientID,
		Status:      models.SelectionActive,
		PropertyIDs: req.PropertyIDs,
	}
	if req.ExpiresInHours > 0 {
		exp := time.Now().UTC().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		sel.ExpiresAt = &exp
	}

	if err := s.store.CreateSelection(r.Context(), sel); err != nil {
		s.logger.Error("[api] Create selection failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to create selection")
		return
	}
	s.logger.Info("[api] Created selection %s with %d properties", sel.ID, len(req.PropertyIDs))
	respondWithJSON(w, http.StatusCreated, sel)
}

func (s *Server) handlePresentSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sel, err := s.store.SelectionByToken(ctx, chi.URLParam(r, "token"))
	if errors.Is(err, storage.ErrSelectionNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("[api] Load selection failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load selection")
		return
	}

	props, err := s.dataset(ctx)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	pres, err := s.presenter.Present(ctx, sel, props)
	if errors.Is(err, services.ErrSelectionExpired) {
		writeJSONError(w, http.StatusGone, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observeResolution(pres.Resolution)

	if !pres.Resolution.OK() {
		s.writeResolution(w, pres.Resolution)
		return
	}

	if pres.Completed && sel.Status != models.SelectionCompleted {
		if err := s.store.MarkCompleted(ctx, sel.ID); err != nil {
			s.logger.Warn("[api] Could not mark selection %s completed: %v", sel.ID, err)
		} else {
			sel.Status = models.SelectionCompleted
		}
	}
	respondWithJSON(w, http.StatusOK, pres)
}

func (s *Server) handleSaveReaction(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := selectionIDParam(w, r)
	if !ok {
		return
	}
	var req reactionRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	reaction := models.Reaction{
		SelectionID: selectionID,
		PropertyID:  req.PropertyID,
		Kind:        req.Reaction,
		CreatedAt:   time.Now().UTC(),
	}
	if p, ok := s.cache.Lookup(req.PropertyID); ok {
		reaction.PropertyTitle = p.Title
	}

	if err := s.store.SaveReaction(r.Context(), reaction); err != nil {
		s.logger.Error("[api] Save reaction failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to save reaction")
		return
	}
	respondWithJSON(w, http.StatusCreated, reaction)
}

func (s *Server) handleListReactions(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := selectionIDParam(w, r)
	if !ok {
		return
	}
	reactions, err := s.store.Reactions(r.Context(), selectionID)
	if err != nil {
		s.logger.Error("[api] List reactions failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load reactions")
		return
	}
	respondWithJSON(w, http.StatusOK, services.Summarize(reactions))
}

// selectionIDParam reads the {id} route parameter, which must be a UUID since
// selections are keyed by one in storage.
func selectionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid selection id")
		return "", false
	}
	return id.String(), true
}

// dataset returns the cached properties, syncing first if nothing is loaded.
func (s *Server) dataset(ctx context.Context) ([]models.Property, error) {
	if s.cache.Phase() == ingest.PhaseLoaded {
		return s.cache.GetAll(), nil
	}
	res := s.cache.AutoSync(ctx)
	props := s.cache.GetAll()
	if len(props) == 0 && res.Err != nil {
		return nil, res.Err
	}
	return props, nil
}

func (s *Server) writeResolution(w http.ResponseWriter, res services.Resolution) {
	resp := resolveResponse{Resolution: res}
	status := http.StatusOK
	switch res.Outcome {
	case services.OutcomeMalformed:
		status = http.StatusUnprocessableEntity
		resp.Error = res.Diagnostics.Reason
	case services.OutcomeNotFound:
		status = http.StatusNotFound
		resp.Error = "none of the selected properties are in the dataset"
	}
	respondWithJSON(w, status, resp)
}

func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeJSONError sends {"error": message} with the given status.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to marshal JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
