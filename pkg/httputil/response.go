package httputil

import (
	"encoding/json"
	"net/http"
)

// Content types used for error bodies
const (
	ContentTypeJSON        = "application/json"
	ContentTypeJSONLD      = "application/ld+json"
	ContentTypeProblemJSON = "application/problem+json"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// hydraError is the JSON-LD error representation
type hydraError struct {
	Context     string `json:"@context"`
	Type        string `json:"@type"`
	Title       string `json:"hydra:title"`
	Description string `json:"hydra:description"`
}

// problemError is the RFC 7807 error representation
type problemError struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// WriteFormattedError writes an error body in the representation named by
// format. Unknown formats fall back to plain JSON.
func WriteFormattedError(w http.ResponseWriter, status int, format, message string) {
	var body interface{}
	switch format {
	case ContentTypeJSONLD:
		body = hydraError{
			Context:     "/contexts/Error",
			Type:        "hydra:Error",
			Title:       "An error occurred",
			Description: message,
		}
	case ContentTypeProblemJSON:
		body = problemError{
			Type:   "about:blank",
			Title:  http.StatusText(status),
			Status: status,
			Detail: message,
		}
	default:
		format = ContentTypeJSON
		body = ErrorResponse{Error: message}
	}

	w.Header().Set("Content-Type", format)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes an internal server error response (500 Internal Server Error)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteAttachment writes body as a downloadable file
func WriteAttachment(w http.ResponseWriter, contentType, filename string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(body)
	return err
}
