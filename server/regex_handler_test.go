package server

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

func TestRegexpHandlerOrderAndMethods(t *testing.T) {
	h := new(RegexpHandler)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})
	h.Handler(regexp.MustCompile(`^/v1/order/reserve$`), []string{"POST"}, ok)
	h.Handler(regexp.MustCompile(`^/v1/order/(?P<id>[^\s\/]+)$`), []string{"GET"}, ok)

	// The reserve route is registered first, so POST matches it instead of
	// falling into the wildcard route with the wrong method.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/order/reserve", nil)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("POST /v1/order/reserve: got %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("DELETE", "/v1/order/17", nil)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /v1/order/17: got %d, want 405", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("OPTIONS", "/v1/order/17", nil)
	h.ServeHTTP(w, req)
	if allow := w.Header().Get("Allow"); allow != "GET, OPTIONS" {
		t.Errorf("OPTIONS Allow header: got %q", allow)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/unknown", nil)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /unknown: got %d, want 404", w.Code)
	}
}
