package test_server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/server"
	"github.com/ewasser/orderd/test"
	"github.com/ewasser/orderd/test/factory"
)

func init() {
	server.AddUser("test", "password")
}

func authRequest(method, path string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
	}
	req.SetBasicAuth("test", "password")
	return req
}

// decoded is the envelope shape every protocol endpoint answers with.
type decoded struct {
	Status   string              `json:"status"`
	Message  string              `json:"message"`
	Messages map[string][]string `json:"messages"`
	Order    *struct {
		models.Order
		Worker *models.Worker `json:"worker"`
	} `json:"order"`
	Orders      []*models.Order `json:"orders"`
	OrderLog    []*models.OrderLog `json:"order_log"`
	Reservation *struct {
		Payload     json.RawMessage `json:"payload"`
		UUID        string          `json:"uuid"`
		CallbackURL string          `json:"callback_url"`
	} `json:"reservation"`
	Meta *struct {
		Link string `json:"link"`
	} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) *decoded {
	t.Helper()
	var d decoded
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("could not decode body %q: %s", w.Body.String(), err)
	}
	return &d
}

func Test401WithoutAuth(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/orders", nil)
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusUnauthorized)
	test.AssertContains(t, w.Header().Get("WWW-Authenticate"), "Basic realm=")
}

func Test404UnknownRoute(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("GET", "/v1/nope", ""))
	test.AssertEquals(t, w.Code, http.StatusNotFound)
}

func TestForbidsNonTLSTraffic(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	req := authRequest("GET", "/v1/orders", "")
	req.Header.Set("X-Forwarded-Proto", "http")
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusForbidden)
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("POST", "/v1/order", `{}`))
	test.AssertEquals(t, w.Code, http.StatusBadRequest)
	d := decode(t, w)
	test.AssertEquals(t, d.Status, "ERROR")
	test.AssertEquals(t, d.Messages["title"][0], "Missing data for required field.")
	test.AssertEquals(t, d.Messages["channel"][0], "Missing data for required field.")
	test.AssertEquals(t, d.Messages["payload"][0], "Missing data for required field.")
}

func TestCreateOrderEmptyTitle(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	body := `{"title": "", "channel": "builds", "payload": {}}`
	server.DefaultServer.ServeHTTP(w, authRequest("POST", "/v1/order", body))
	test.AssertEquals(t, w.Code, http.StatusBadRequest)
	d := decode(t, w)
	test.AssertEquals(t, d.Messages["title"][0], "Shorter than minimum length 1.")
}

func TestCreateOrderScalarPayload(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	body := `{"title": "t", "channel": "builds", "payload": [1, 2]}`
	server.DefaultServer.ServeHTTP(w, authRequest("POST", "/v1/order", body))
	test.AssertEquals(t, w.Code, http.StatusBadRequest)
	d := decode(t, w)
	test.AssertEquals(t, d.Messages["payload"][0], "Not a valid mapping type.")
}

func TestCreateOrder(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	w := httptest.NewRecorder()
	body := `{"title": "build the thing", "channel": "builds", "payload": {"k": "v"}}`
	server.DefaultServer.ServeHTTP(w, authRequest("POST", "/v1/order", body))
	test.AssertEquals(t, w.Code, http.StatusCreated)
	d := decode(t, w)
	test.AssertEquals(t, d.Status, "OK")
	test.AssertEquals(t, d.Order.Title, "build the thing")
	test.AssertEquals(t, d.Order.Status, models.StatusNew)
	test.AssertEquals(t, d.Meta.Link, fmt.Sprintf("/v1/order/%d", d.Order.ID))
}

func TestGetOrder(t *testing.T) {
	defer test.TearDown(t)
	order := factory.CreateOrder(t, factory.Channel)

	w := httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("GET", fmt.Sprintf("/v1/order/%d", order.ID), ""))
	test.AssertEquals(t, w.Code, http.StatusOK)
	d := decode(t, w)
	// A plain GET has no protocol status field.
	test.AssertEquals(t, d.Status, "")
	test.AssertEquals(t, d.Order.UUID, order.UUID)
	test.Assert(t, d.Order.Worker == nil, "a new order has no lease")

	// The same order is reachable by uuid.
	w = httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("GET", "/v1/order/"+order.UUID, ""))
	test.AssertEquals(t, w.Code, http.StatusOK)
}

func TestGetOrderNotFound(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	w := httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("GET", "/v1/order/123456789", ""))
	test.AssertEquals(t, w.Code, http.StatusNotFound)
	d := decode(t, w)
	test.AssertEquals(t, d.Status, "ERROR")
	test.AssertEquals(t, d.Message, "No entry found")
}

func TestListOrdersInvalidStatus(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("GET", "/v1/orders?status=bogus", ""))
	test.AssertEquals(t, w.Code, http.StatusBadRequest)
	d := decode(t, w)
	test.AssertEquals(t, d.Messages["status"][0], "Must be one of: all, new, working, finished, error.")
}

func TestReserveValidation(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/order/reserve", bytes.NewBufferString(`{"channel": "builds"}`))
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusBadRequest)
	d := decode(t, w)
	test.AssertEquals(t, d.Messages["name"][0], "Missing data for required field.")
}

// The full worker protocol over HTTP: publish, reserve, report, inspect.
func TestWorkerProtocol(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	channel := factory.RandomChannel()
	order := factory.CreateOrder(t, channel)

	// Reserve needs no credentials, only the channel name.
	w := httptest.NewRecorder()
	body := fmt.Sprintf(`{"channel": %q, "name": "worker-a"}`, channel)
	req, _ := http.NewRequest("POST", "/v1/order/reserve", bytes.NewBufferString(body))
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusCreated)
	d := decode(t, w)
	test.AssertEquals(t, d.Status, "OK")
	test.Assert(t, d.Reservation != nil, "expected a reservation")
	test.Assert(t, d.Reservation.UUID != "", "expected a lease token")
	test.AssertContains(t, d.Reservation.CallbackURL, "/result/"+d.Reservation.UUID)

	// An empty channel answers 404.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/order/reserve", bytes.NewBufferString(body))
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusNotFound)

	// Report the result against the lease token.
	token := d.Reservation.UUID
	resultBody := `{"result": {"exit_code": 0, "output": "done\n"}}`
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/result/"+token, strings.NewReader(resultBody))
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusOK)
	d = decode(t, w)
	test.AssertEquals(t, d.Status, "OK")
	test.AssertEquals(t, d.Meta.Link, fmt.Sprintf("/v1/order/%d", order.ID))

	// A second report is rejected and changes nothing.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/result/"+token, strings.NewReader(resultBody))
	server.DefaultServer.ServeHTTP(w, req)
	test.AssertEquals(t, w.Code, http.StatusBadRequest)

	got, err := orders.Get(order.ID)
	test.AssertNotError(t, err, "getting order")
	test.AssertEquals(t, got.Status, models.StatusFinished)

	// The audit trail is readable over HTTP.
	w = httptest.NewRecorder()
	server.DefaultServer.ServeHTTP(w, authRequest("GET", fmt.Sprintf("/v1/order/%d/log", order.ID), ""))
	test.AssertEquals(t, w.Code, http.StatusOK)
	d = decode(t, w)
	test.AssertEquals(t, len(d.OrderLog), 2)
}
