// API client for the scheduler's worker-facing endpoints.
package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ewasser/orderd/rest"
)

// Client talks to the order scheduler: reserving orders on a channel and
// reporting results against a lease.
type Client struct {
	*rest.Client

	Orders *OrderService
}

// NewClient creates a new Client.
func NewClient(id, token, base string) *Client {
	c := &Client{rest.NewClient(id, token, base), nil}
	c.Orders = &OrderService{Client: c}
	return c
}

type OrderService struct {
	Client *Client
}

// Reservation is returned by a successful reserve call. The UUID is the
// lease token, and CallbackURL is where the result must be posted.
type Reservation struct {
	Payload     json.RawMessage `json:"payload"`
	UUID        string          `json:"uuid"`
	CallbackURL string          `json:"callback_url"`
}

type reserveParams struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
}

type resultParams struct {
	Result struct {
		ExitCode int64  `json:"exit_code"`
		Output   string `json:"output"`
	} `json:"result"`
}

// ErrNoOrders means the channel has no eligible orders right now.
var ErrNoOrders = errors.New("worker: no eligible order on the channel")

// ErrLostRace means another worker reserved the candidate order first; the
// caller can retry immediately.
var ErrLostRace = errors.New("worker: another worker won the reservation")

// Reserve attempts to reserve the oldest eligible order on the channel.
// Exactly one of any number of concurrent callers gets a given order.
func (o *OrderService) Reserve(channel, name string) (*Reservation, error) {
	b := new(bytes.Buffer)
	if err := json.NewEncoder(b).Encode(&reserveParams{Channel: channel, Name: name}); err != nil {
		return nil, err
	}
	req, err := o.Client.NewRequest("POST", "/v1/order/reserve", b)
	if err != nil {
		return nil, err
	}
	var res struct {
		Status      string       `json:"status"`
		Reservation *Reservation `json:"reservation"`
	}
	if err := o.Client.Do(req, &res); err != nil {
		if rerr, ok := err.(*rest.Error); ok {
			switch rerr.StatusCode {
			case 404:
				return nil, ErrNoOrders
			case 400:
				return nil, ErrLostRace
			}
		}
		return nil, err
	}
	if res.Reservation == nil {
		return nil, errors.New("worker: reserve response carried no reservation")
	}
	return res.Reservation, nil
}

// Report posts the outcome of one execution attempt against the lease
// token. The scheduler accepts exactly one result per lease; a second
// report comes back as a 400.
func (o *OrderService) Report(token string, exitCode int64, output string) error {
	var rp resultParams
	rp.Result.ExitCode = exitCode
	rp.Result.Output = output
	b := new(bytes.Buffer)
	if err := json.NewEncoder(b).Encode(&rp); err != nil {
		return err
	}
	req, err := o.Client.NewRequest("POST", fmt.Sprintf("/result/%s", token), b)
	if err != nil {
		return err
	}
	var d struct{}
	return o.Client.Do(req, &d)
}
