package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/ewasser/orderd/services"
)

// ReserveRequest is sent in the body of a request to POST
// /v1/order/reserve.
type ReserveRequest struct {
	Channel *string `json:"channel"`
	Name    *string `json:"name"`
}

// reservationResponse is handed to the winning worker: the order payload,
// the lease uuid it must keep secret, and where to POST the result.
type reservationResponse struct {
	Payload     json.RawMessage `json:"payload"`
	UUID        string          `json:"uuid"`
	CallbackURL string          `json:"callback_url"`
}

// POST /v1/order/reserve
//
// Reserve the oldest eligible order on a channel. Exactly one of any number
// of concurrent callers wins a given order; the rest get a 404 (nothing
// left on the channel) or a 400 (lost the race, try again).
func reserveOrder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			validationEnvelope(w, r, map[string][]string{
				"channel": {missingField},
				"name":    {missingField},
			})
			return
		}
		defer r.Body.Close()
		var rr ReserveRequest
		if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
			badRequestEnvelope(w, r, "Invalid request: bad JSON. Double check the types of the fields you sent")
			return
		}
		invalid := make(map[string][]string)
		if rr.Channel == nil {
			invalid["channel"] = append(invalid["channel"], missingField)
		}
		if rr.Name == nil {
			invalid["name"] = append(invalid["name"], missingField)
		}
		if len(invalid) > 0 {
			validationEnvelope(w, r, invalid)
			return
		}

		reservation, err := services.Reserve(*rr.Channel, *rr.Name, remoteIP(r))
		if err != nil {
			switch terr := err.(type) {
			case *services.ValidationError:
				validationEnvelope(w, r, terr.Messages)
			default:
				if err == services.ErrNoCandidates {
					notFoundEnvelope(w)
				} else if err == services.ErrReservationConflict {
					badRequestEnvelope(w, r, err.Error())
				} else {
					writeServerError(w, r, err)
				}
			}
			return
		}

		writeEnvelope(w, http.StatusCreated, &envelope{
			Status: "OK",
			Reservation: &reservationResponse{
				Payload:     reservation.Order.Payload,
				UUID:        reservation.Token(),
				CallbackURL: callbackURL(r, reservation.Token()),
			},
		})
	})
}

// remoteIP returns the client address without the port. The lease records
// it for reporting only; no authorization decision reads it.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// callbackURL templates the absolute result URL for a lease token from the
// incoming request's host.
func callbackURL(r *http.Request, token string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/result/%s", scheme, r.Host, token)
}
