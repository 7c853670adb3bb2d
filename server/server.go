// Package server provides the HTTP interface for the order queue.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/http/pprof"
	"os"
	"regexp"
	"strings"
	"time"

	dberror "github.com/Shyp/go-dberror"
	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/ewasser/orderd/config"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/order_logs"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/models/workers"
)

// The maximum payload size that can be sent in the body of a HTTP request.
const MAX_ORDER_PAYLOAD_SIZE = 100 * 1024

var disallowUnencryptedRequests = true

// DefaultServer serves every route using the DefaultAuthorizer for
// authentication.
var DefaultServer http.Handler

// POST /v1/order/reserve
//
// Must go before the getOrderRoute
var reserveRoute = regexp.MustCompile(`^/v1/order/reserve$`)

// GET /v1/order/:id-or-uuid/log
var orderLogRoute = regexp.MustCompile(`^/v1/order/(?P<id>[^\s\/]+)/log$`)

// GET /v1/order/:id-or-uuid
var getOrderRoute = regexp.MustCompile(`^/v1/order/(?P<id>[^\s\/]+)$`)

// POST /v1/order
var createOrderRoute = regexp.MustCompile(`^/v1/order$`)

// GET /v1/orders
var listOrdersRoute = regexp.MustCompile(`^/v1/orders$`)

// POST /result/:lease-uuid
var resultRoute = regexp.MustCompile(`^/result/(?P<uuid>[^\s\/]+)$`)

// Get returns a http.Handler with all routes initialized using the given
// Authorizer. The reservation and result-callback routes are deliberately
// outside the authorizer: workers hold no credentials besides the channel
// name and their lease token.
func Get(a Authorizer) http.Handler {
	h := new(RegexpHandler)

	h.Handler(reserveRoute, []string{"POST"}, reserveOrder())
	h.Handler(resultRoute, []string{"POST"}, reportResult())

	h.Handler(createOrderRoute, []string{"POST"}, authHandler(createOrder(), a))
	h.Handler(listOrdersRoute, []string{"GET"}, authHandler(listOrders(), a))
	h.Handler(orderLogRoute, []string{"GET"}, authHandler(getOrderLog(), a))
	h.Handler(getOrderRoute, []string{"GET"}, authHandler(getOrder(), a))

	h.Handler(regexp.MustCompile("^/debug/pprof$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Index), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/cmdline$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Cmdline), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/profile$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Profile), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/symbol$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Symbol), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/trace$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Trace), a))

	return debugRequestBodyHandler(
		serverHeaderHandler(
			forbidNonTLSTrafficHandler(h),
		),
	)
}

func init() {
	DefaultServer = Get(DefaultAuthorizer)
	disallowUnencryptedRequests = os.Getenv("ALLOW_UNENCRYPTED_PROXY_TRAFFIC") != "true"
}

func serverHeaderHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/debug/pprof") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.Header().Set("Server", fmt.Sprintf("orderd/%s", config.Version))
		h.ServeHTTP(w, r)
	})
}

// forbidNonTLSTrafficHandler returns a 403 to traffic that is sent via a proxy
func forbidNonTLSTrafficHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if disallowUnencryptedRequests == true {
			if r.Header.Get("X-Forwarded-Proto") == "http" {
				// It should always be set, but if it's not, let the request
				// through.
				forbidden(w, insecure403(r))
				return
			}
		}
		// This header doesn't mean anything when served over HTTP, but
		// detecting HTTPS is a general way is hard, so let's just send it
		// every time.
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.ServeHTTP(w, r)
	})
}

func authHandler(h http.Handler, a Authorizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, token, ok := r.BasicAuth()
		if !ok {
			authenticate(w, new401(r))
			return
		}
		err := a.Authorize(userId, token)
		if err != nil {
			metrics.Increment("auth.error")
			handleAuthorizeError(w, r, err)
			return
		}
		metrics.Increment("auth.success")
		h.ServeHTTP(w, r)
	})
}

// debugRequestBodyHandler prints all incoming and outgoing HTTP traffic if the
// DEBUG_HTTP_TRAFFIC environment variable is set to true. Note that the output
// will be jumbled if the server is handling multiple requests at the same
// time.
func debugRequestBodyHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if os.Getenv("DEBUG_HTTP_TRAFFIC") == "true" {
			// You need to write the entire thing in one Write, otherwise the
			// output will be jumbled with other requests.
			b := new(bytes.Buffer)
			bits, err := httputil.DumpRequest(r, true)
			if err != nil {
				_, _ = b.WriteString(err.Error())
			} else {
				_, _ = b.Write(bits)
			}
			res := httptest.NewRecorder()
			h.ServeHTTP(res, r)

			_, _ = b.WriteString(fmt.Sprintf("HTTP/1.1 %d\r\n", res.Code))
			_ = res.HeaderMap.Write(b)
			for k, v := range res.HeaderMap {
				w.Header()[k] = v
			}
			w.WriteHeader(res.Code)
			_, _ = b.WriteString("\r\n")
			writer := io.MultiWriter(w, b)
			_, _ = res.Body.WriteTo(writer)
			_, _ = b.WriteTo(os.Stderr)
		} else {
			h.ServeHTTP(w, r)
		}
	})
}

const missingField = "Missing data for required field."
const tooShortField = "Shorter than minimum length 1."

// CreateOrderRequest is a struct of data sent in the body of a request to
// /v1/order. Pointers distinguish an omitted field from an empty one.
type CreateOrderRequest struct {
	Title   *string         `json:"title"`
	Channel *string         `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// isJSONObject reports whether b is a well-formed JSON object. The payload
// is opaque to the queue, but it must be a structured document, not a bare
// scalar or array.
func isJSONObject(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// POST /v1/order
//
// Create a new order with status "new" on the requested channel.
func createOrder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			validationEnvelope(w, r, map[string][]string{
				"title":   {missingField},
				"channel": {missingField},
				"payload": {missingField},
			})
			return
		}
		defer r.Body.Close()
		var cor CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&cor); err != nil {
			badRequestEnvelope(w, r, "Invalid request: bad JSON. Double check the types of the fields you sent")
			return
		}
		invalid := make(map[string][]string)
		if cor.Title == nil {
			invalid["title"] = append(invalid["title"], missingField)
		} else if *cor.Title == "" {
			invalid["title"] = append(invalid["title"], tooShortField)
		}
		if cor.Channel == nil {
			invalid["channel"] = append(invalid["channel"], missingField)
		} else if *cor.Channel == "" {
			invalid["channel"] = append(invalid["channel"], tooShortField)
		}
		if cor.Payload == nil {
			invalid["payload"] = append(invalid["payload"], missingField)
		} else if !isJSONObject(cor.Payload) {
			invalid["payload"] = append(invalid["payload"], "Not a valid mapping type.")
		}
		if len(invalid) > 0 {
			validationEnvelope(w, r, invalid)
			return
		}
		if len(cor.Payload) > MAX_ORDER_PAYLOAD_SIZE {
			writeEnvelope(w, http.StatusRequestEntityTooLarge, &envelope{
				Status:  "ERROR",
				Message: "Payload parameter is too large (100KB max)",
			})
			return
		}

		start := time.Now()
		order, err := orders.Create(*cor.Title, *cor.Channel, cor.Payload)
		go metrics.Time("order.create.latency", time.Since(start))
		if err != nil {
			switch terr := err.(type) {
			case *dberror.Error:
				badRequestEnvelope(w, r, terr.Message)
			default:
				writeServerError(w, r, err)
			}
			go metrics.Increment("order.create.error")
			return
		}
		go metrics.Increment("order.create.success")
		writeEnvelope(w, http.StatusCreated, &envelope{
			Status: "OK",
			Order:  order,
			Meta:   meta{Link: fmt.Sprintf("/v1/order/%d", order.ID)},
		})
	})
}

// orderWithWorker is an Order plus its most recent lease (or null), the
// shape returned by GET /v1/order/:id.
type orderWithWorker struct {
	*models.Order
	Worker *models.Worker `json:"worker"`
}

// GET /v1/order/:id-or-uuid
//
// An all-digit identifier is treated as a numeric id, anything else as the
// order's uuid.
func getOrder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := getOrderRoute.FindStringSubmatch(r.URL.Path)[1]
		order, err := orders.GetRetry(identifier, 3)
		if err == orders.ErrNotFound {
			notFoundEnvelope(w)
			go metrics.Increment("order.get.not_found")
			return
		}
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		lease, err := workers.GetLatest(order.ID)
		if err != nil && err != workers.ErrNotFound {
			writeServerError(w, r, err)
			return
		}
		go metrics.Increment("order.get.success")
		writeEnvelope(w, http.StatusOK, &envelope{
			Order: &orderWithWorker{Order: order, Worker: lease},
		})
	})
}

var validStatusFilters = map[string]bool{
	"all":      true,
	"new":      true,
	"working":  true,
	"finished": true,
	"error":    true,
}

// GET /v1/orders?status=<all|new|working|finished|error>
//
// The default filter is "new": the dispatch backlog.
func listOrders() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = "new"
		}
		if !validStatusFilters[status] {
			validationEnvelope(w, r, map[string][]string{
				"status": {"Must be one of: all, new, working, finished, error."},
			})
			return
		}
		list, err := orders.List(status)
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		writeEnvelope(w, http.StatusOK, &envelope{
			Orders: list,
			Meta:   struct{}{},
		})
	})
}

// GET /v1/order/:id-or-uuid/log
//
// The order's append-only audit trail, oldest line first.
func getOrderLog() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := orderLogRoute.FindStringSubmatch(r.URL.Path)[1]
		order, err := orders.GetRetry(identifier, 3)
		if err == orders.ErrNotFound {
			notFoundEnvelope(w)
			return
		}
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		lines, err := order_logs.List(order.ID)
		if err != nil {
			writeServerError(w, r, err)
			return
		}
		writeEnvelope(w, http.StatusOK, &envelope{
			OrderLog: lines,
			Meta:     struct{}{},
		})
	})
}
