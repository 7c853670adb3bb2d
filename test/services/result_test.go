package test_services

import (
	"testing"

	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/archives"
	"github.com/ewasser/orderd/models/order_logs"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/models/workers"
	"github.com/ewasser/orderd/services"
	"github.com/ewasser/orderd/test"
	"github.com/ewasser/orderd/test/factory"
)

func TestResultUnknownToken(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	_, err := services.HandleResult("e7fa4bb1-9b06-4eb5-9a9b-54b2cbd1f152", 0, "done\n")
	test.AssertEquals(t, err, workers.ErrNotFound)
}

func TestResultSuccess(t *testing.T) {
	defer test.TearDown(t)
	res := factory.ReserveOrder(t)

	order, err := services.HandleResult(res.Token(), 0, "done\n")
	test.AssertNotError(t, err, "reporting result")
	test.AssertEquals(t, order.Status, models.StatusFinished)
	test.Assert(t, order.FinishTime.Valid, "finish_time should be set on success")
	test.Assert(t, order.StartTime.Valid, "start_time should survive the transition")

	lease, err := workers.GetByUUID(res.Token())
	test.AssertNotError(t, err, "getting lease")
	test.Assert(t, !lease.Open(), "lease should be closed")
	test.Assert(t, lease.ExitCode.Valid, "exit code should be recorded")
	test.AssertEquals(t, lease.ExitCode.Int64, int64(0))
	test.AssertEquals(t, lease.Output.String, "done\n")

	// The sample payload names an archive key, so completing the order
	// writes the marker.
	_, err = archives.Get("build", "linux-amd64")
	test.AssertNotError(t, err, "getting archive record")

	lines, err := order_logs.List(order.ID)
	test.AssertNotError(t, err, "listing log lines")
	test.AssertEquals(t, len(lines), 2)
	test.AssertContains(t, lines[1].Line, "exit code 0")
	test.AssertEquals(t, lines[1].Category, models.LogInfo)
}

func TestResultFailure(t *testing.T) {
	defer test.TearDown(t)
	res := factory.ReserveOrder(t)

	order, err := services.HandleResult(res.Token(), 2, "boom\n")
	test.AssertNotError(t, err, "reporting failure")
	test.AssertEquals(t, order.Status, models.StatusError)
	test.Assert(t, !order.FinishTime.Valid, "finish_time stays null on failure")

	lease, err := workers.GetByUUID(res.Token())
	test.AssertNotError(t, err, "getting lease")
	test.Assert(t, !lease.Open(), "lease should be closed even on failure")
	test.AssertEquals(t, lease.ExitCode.Int64, int64(2))

	lines, err := order_logs.List(order.ID)
	test.AssertNotError(t, err, "listing log lines")
	test.AssertEquals(t, len(lines), 2)
	test.AssertEquals(t, lines[1].Category, models.LogError)
}

func TestResultDuplicate(t *testing.T) {
	defer test.TearDown(t)
	res := factory.ReserveOrder(t)

	order, err := services.HandleResult(res.Token(), 0, "done\n")
	test.AssertNotError(t, err, "reporting result")

	_, err = services.HandleResult(res.Token(), 7, "late duplicate\n")
	test.AssertEquals(t, err, services.ErrAlreadyReported)

	// The duplicate must not have changed anything.
	got, err := orders.Get(order.ID)
	test.AssertNotError(t, err, "getting order")
	test.AssertEquals(t, got.Status, models.StatusFinished)
	lease, err := workers.GetByUUID(res.Token())
	test.AssertNotError(t, err, "getting lease")
	test.AssertEquals(t, lease.ExitCode.Int64, int64(0))
	lines, err := order_logs.List(order.ID)
	test.AssertNotError(t, err, "listing log lines")
	test.AssertEquals(t, len(lines), 2)
}

func TestResultNoArchiveKey(t *testing.T) {
	defer test.TearDown(t)
	channel := factory.RandomChannel()
	factory.CreateOrderPayload(t, channel, factory.EmptyPayload)
	res, err := services.Reserve(channel, factory.WorkerName, factory.WorkerIP)
	test.AssertNotError(t, err, "reserving order")

	order, err := services.HandleResult(res.Token(), 0, "done\n")
	test.AssertNotError(t, err, "reporting result")
	test.AssertEquals(t, order.Status, models.StatusFinished)

	lines, err := order_logs.List(order.ID)
	test.AssertNotError(t, err, "listing log lines")
	test.AssertEquals(t, len(lines), 3)
	test.AssertEquals(t, lines[2].Category, models.LogWarning)
	test.AssertContains(t, lines[2].Line, "skipping archive record")
}

// Two orders naming the same archive key produce a single archive record.
func TestArchiveDedup(t *testing.T) {
	test.SetUp(t)
	test.TruncateTables(t)
	defer test.TearDown(t)

	for i := 0; i < 2; i++ {
		factory.FinishOrder(t)
	}
	count, err := archives.Count("build", "linux-amd64")
	test.AssertNotError(t, err, "counting archive records")
	test.AssertEquals(t, count, int64(1))
}
