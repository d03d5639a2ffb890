package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/earthring/zonesync/internal/selection"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// validationResponse is the 422 body. Fields maps the payload field name to
// its issues so the form can show them next to both inputs.
type validationResponse struct {
	Error  string                                `json:"error"`
	Fields map[selection.Field][]selection.Issue `json:"fields"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

func respondWithValidationError(w http.ResponseWriter, err *selection.ValidationError) {
	writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
		Error:  "ValidationError",
		Fields: err.Fields,
	})
}

// parseID parses the first path segment as a positive id.
func parseID(path string) (int64, error) {
	segment := strings.SplitN(strings.Trim(path, "/"), "/", 2)[0]
	if segment == "" {
		return 0, fmt.Errorf("missing id")
	}
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", segment)
	}
	return id, nil
}

func parseIntParam(value string, defaultValue int) (int, error) {
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}
