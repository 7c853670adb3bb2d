// Helpers for building various types of error responses.
//
// The order/reservation/result endpoints answer with the envelope the
// worker protocol expects ({"status": "ERROR", ...}); everything around
// them (auth, unknown routes, server errors) uses problem-JSON.

package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/Shyp/rest"
)

// envelope is the response body shared by every protocol endpoint. Status
// is "OK" or "ERROR"; the other fields depend on the operation.
type envelope struct {
	Status      string              `json:"status,omitempty"`
	Message     string              `json:"message,omitempty"`
	Messages    map[string][]string `json:"messages,omitempty"`
	Order       interface{}         `json:"order,omitempty"`
	Orders      interface{}         `json:"orders,omitempty"`
	OrderLog    interface{}         `json:"order_log,omitempty"`
	Reservation interface{}         `json:"reservation,omitempty"`
	Meta        interface{}         `json:"meta,omitempty"`
}

type meta struct {
	Link string `json:"link"`
}

func writeEnvelope(w http.ResponseWriter, code int, e *envelope) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(e)
}

// notFoundEnvelope answers 404 in the protocol's envelope shape.
func notFoundEnvelope(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusNotFound, &envelope{
		Status:  "ERROR",
		Message: "No entry found",
	})
}

// badRequestEnvelope answers 400 with a single message.
func badRequestEnvelope(w http.ResponseWriter, r *http.Request, message string) {
	log.Printf("400: %s %s: %s", r.Method, r.URL.Path, message)
	writeEnvelope(w, http.StatusBadRequest, &envelope{
		Status:  "ERROR",
		Message: message,
	})
}

// validationEnvelope answers 400 with per-field reasons, in the shape
// {"status": "ERROR", "messages": {"field": ["reason"]}}.
func validationEnvelope(w http.ResponseWriter, r *http.Request, messages map[string][]string) {
	log.Printf("400: %s %s: %v", r.Method, r.URL.Path, messages)
	writeEnvelope(w, http.StatusBadRequest, &envelope{
		Status:   "ERROR",
		Messages: messages,
	})
}

func new405(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:      "Method not allowed",
		ID:         "method_not_allowed",
		Instance:   r.URL.Path,
		Status: 405,
	}
}

func new404(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:      "Resource not found",
		ID:         "not_found",
		Instance:   r.URL.Path,
		Status: 404,
	}
}

func insecure403(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:      "Server not available over HTTP",
		ID:         "insecure_request",
		Detail:     "For your security, please use an encrypted connection",
		Instance:   r.URL.Path,
		Status: 403,
	}
}

func new401(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:      "Unauthorized. Please include your API credentials",
		ID:         "unauthorized",
		Instance:   r.URL.Path,
		Status: 401,
	}
}

func notFound(w http.ResponseWriter, err *rest.Error) {
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(err)
}

func badRequest(w http.ResponseWriter, r *http.Request, err *rest.Error) {
	log.Printf("400: %s %s: %s", r.Method, r.URL.Path, err.Error())
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(err)
}

func authenticate(w http.ResponseWriter, err *rest.Error) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", "orderd"))
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(err)
}

func forbidden(w http.ResponseWriter, err *rest.Error) {
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(err)
}

var serverError = rest.Error{
	Status: http.StatusInternalServerError,
	ID:         "server_error",
	Title:      "Unexpected server error. Please try again",
}

// writeServerError logs the provided error, and returns a generic server
// error message to the client.
func writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("500: %s %s: %s", r.Method, r.URL.Path, err)
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(serverError)
}
