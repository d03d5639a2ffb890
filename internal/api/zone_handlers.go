package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/earthring/zonesync/internal/database"
	"github.com/earthring/zonesync/internal/selection"
	"github.com/go-playground/validator/v10"
)

// ZoneStore is the persistence used by the zone handlers and editor
// sessions. *database.ZoneStorage implements it.
type ZoneStore interface {
	CreateZone(input *database.ZoneCreateInput) (*database.Zone, error)
	GetZoneByID(id int64) (*database.Zone, error)
	ListZones(limit, offset int) ([]database.Zone, error)
	UpdateZone(id int64, input database.ZoneUpdateInput) (*database.Zone, error)
	DeleteZone(id int64) error
}

// ZoneNotifier is told about every persisted zone change.
type ZoneNotifier func(event string, zoneID int64)

// ZoneHandlers manages HTTP handlers for delivery zones.
type ZoneHandlers struct {
	store    ZoneStore
	validate *validator.Validate
	notify   ZoneNotifier
}

// NewZoneHandlers creates a new ZoneHandlers instance. notify may be nil.
func NewZoneHandlers(store ZoneStore, notify ZoneNotifier) *ZoneHandlers {
	return &ZoneHandlers{
		store:    store,
		validate: validator.New(),
		notify:   notify,
	}
}

type createZoneRequest struct {
	Name          string              `json:"name" validate:"required,max=255"`
	DistrictIDs   []int64             `json:"districtIds"`
	CustomPolygon []selection.Feature `json:"customPolygon"`
}

type updateZoneRequest struct {
	Name          *string              `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	DistrictIDs   *[]int64             `json:"districtIds,omitempty"`
	CustomPolygon *[]selection.Feature `json:"customPolygon,omitempty"`
}

// payload returns the submitted selection, or nil when the request leaves
// the selection unchanged. Sending one field clears the other.
func (r updateZoneRequest) payload() *selection.Payload {
	if r.DistrictIDs == nil && r.CustomPolygon == nil {
		return nil
	}
	p := selection.Payload{DistrictIDs: []int64{}, CustomPolygon: []selection.Feature{}}
	if r.DistrictIDs != nil {
		p.DistrictIDs = *r.DistrictIDs
	}
	if r.CustomPolygon != nil {
		p.CustomPolygon = *r.CustomPolygon
	}
	return &p
}

// CreateZone handles POST /api/zones
func (h *ZoneHandlers) CreateZone(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, requestValidationMessage(err))
		return
	}

	payload := selection.Payload{DistrictIDs: req.DistrictIDs, CustomPolygon: req.CustomPolygon}
	if !h.checkSelection(w, payload) {
		return
	}

	zone, err := h.store.CreateZone(&database.ZoneCreateInput{Name: req.Name, Selection: payload})
	if err != nil {
		h.respondWithStoreError(w, "create", err)
		return
	}

	log.Printf("[Zones] Created zone %d (%s)", zone.ID, zone.Selection().Modality())
	h.emit("zone_created", zone.ID)
	writeJSON(w, http.StatusCreated, zone)
}

// GetZone handles GET /api/zones/{id}
func (h *ZoneHandlers) GetZone(w http.ResponseWriter, r *http.Request, id int64) {
	zone, err := h.store.GetZoneByID(id)
	if err != nil {
		h.respondWithStoreError(w, "get", err)
		return
	}
	if zone == nil {
		respondWithError(w, http.StatusNotFound, "Zone not found")
		return
	}
	writeJSON(w, http.StatusOK, zone)
}

// ListZones handles GET /api/zones?limit=&offset=
func (h *ZoneHandlers) ListZones(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query().Get("limit"), 100)
	if err != nil || limit <= 0 || limit > 1000 {
		respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	offset, err := parseIntParam(r.URL.Query().Get("offset"), 0)
	if err != nil || offset < 0 {
		respondWithError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	zones, err := h.store.ListZones(limit, offset)
	if err != nil {
		h.respondWithStoreError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

// UpdateZone handles PUT /api/zones/{id}
func (h *ZoneHandlers) UpdateZone(w http.ResponseWriter, r *http.Request, id int64) {
	var req updateZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, requestValidationMessage(err))
		return
	}

	payload := req.payload()
	if payload != nil && !h.checkSelection(w, *payload) {
		return
	}

	zone, err := h.store.UpdateZone(id, database.ZoneUpdateInput{Name: req.Name, Selection: payload})
	if err != nil {
		h.respondWithStoreError(w, "update", err)
		return
	}

	h.emit("zone_updated", zone.ID)
	writeJSON(w, http.StatusOK, zone)
}

// DeleteZone handles DELETE /api/zones/{id}
func (h *ZoneHandlers) DeleteZone(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.store.DeleteZone(id); err != nil {
		h.respondWithStoreError(w, "delete", err)
		return
	}
	h.emit("zone_deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// checkSelection enforces exactly one selection unit before anything is
// stored. Both fields carry the error.
func (h *ZoneHandlers) checkSelection(w http.ResponseWriter, payload selection.Payload) bool {
	err := selection.Validate(payload.State())
	if err == nil {
		return true
	}
	var ve *selection.ValidationError
	if errors.As(err, &ve) {
		respondWithValidationError(w, ve)
		return false
	}
	respondWithError(w, http.StatusBadRequest, err.Error())
	return false
}

func (h *ZoneHandlers) respondWithStoreError(w http.ResponseWriter, op string, err error) {
	var ve *selection.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithValidationError(w, ve)
	case errors.Is(err, database.ErrZoneNotFound):
		respondWithError(w, http.StatusNotFound, "Zone not found")
	default:
		log.Printf("[Zones] Failed to %s zone: %v", op, err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s zone", op))
	}
}

func (h *ZoneHandlers) emit(event string, zoneID int64) {
	if h.notify != nil {
		h.notify(event, zoneID)
	}
}

func requestValidationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "Invalid request"
	}
	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", fe.Field(), fieldMessage(fe)))
	}
	return strings.Join(messages, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
