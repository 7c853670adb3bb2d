// Package factory contains helpers for instantiating tests.
package factory

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/services"
	"github.com/ewasser/orderd/test"
	"github.com/google/uuid"
)

var EmptyPayload = json.RawMessage([]byte("{}"))

// SamplePayload carries an archive key, so completing an order created with
// it writes an archive record.
var SamplePayload = json.RawMessage([]byte(`{"archive": {"source": "build", "name": "linux-amd64"}, "command": "echo", "args": ["hi"]}`))

const Channel = "builds"
const WorkerName = "worker-a"
const WorkerIP = "10.0.0.4"

// RandomChannel returns a channel name no other test run has used.
func RandomChannel() string {
	return fmt.Sprintf("chan-%s", uuid.NewString()[:8])
}

// CreateOrder creates an order with the sample payload on the given channel.
func CreateOrder(t testing.TB, channel string) *models.Order {
	t.Helper()
	test.SetUp(t)
	order, err := orders.Create("sample order", channel, SamplePayload)
	test.AssertNotError(t, err, "creating order")
	return order
}

// CreateOrderPayload creates an order with the given payload.
func CreateOrderPayload(t testing.TB, channel string, payload json.RawMessage) *models.Order {
	t.Helper()
	test.SetUp(t)
	order, err := orders.Create("sample order", channel, payload)
	test.AssertNotError(t, err, "creating order")
	return order
}

// ReserveOrder creates an order on a fresh channel and reserves it,
// returning the reservation.
func ReserveOrder(t testing.TB) *services.Reservation {
	t.Helper()
	channel := RandomChannel()
	CreateOrder(t, channel)
	res, err := services.Reserve(channel, WorkerName, WorkerIP)
	test.AssertNotError(t, err, "reserving order")
	return res
}

// FinishOrder creates, reserves and successfully completes an order,
// returning it in its terminal state.
func FinishOrder(t testing.TB) *models.Order {
	t.Helper()
	res := ReserveOrder(t)
	order, err := services.HandleResult(res.Token(), 0, "done\n")
	test.AssertNotError(t, err, "reporting result")
	return order
}
