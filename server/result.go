package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ewasser/orderd/models/workers"
	"github.com/ewasser/orderd/services"
)

// ResultRequest is sent in the body of a request to POST
// /result/:lease-uuid, reporting the outcome of one execution attempt.
type ResultRequest struct {
	Result *struct {
		ExitCode *int64  `json:"exit_code"`
		Output   *string `json:"output"`
	} `json:"result"`
}

// POST /result/:lease-uuid
//
// Close the lease and transition its order. A lease accepts exactly one
// result; reporting twice is a 400 and changes nothing.
func reportResult() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := resultRoute.FindStringSubmatch(r.URL.Path)[1]
		if r.Body == nil {
			validationEnvelope(w, r, map[string][]string{
				"result": {missingField},
			})
			return
		}
		defer r.Body.Close()
		var rr ResultRequest
		if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
			badRequestEnvelope(w, r, "Invalid request: bad JSON. Double check the types of the fields you sent")
			return
		}
		if rr.Result == nil {
			validationEnvelope(w, r, map[string][]string{
				"result": {missingField},
			})
			return
		}
		invalid := make(map[string][]string)
		if rr.Result.ExitCode == nil {
			invalid["exit_code"] = append(invalid["exit_code"], missingField)
		}
		if rr.Result.Output == nil {
			invalid["output"] = append(invalid["output"], missingField)
		}
		if len(invalid) > 0 {
			validationEnvelope(w, r, invalid)
			return
		}

		order, err := services.HandleResult(token, *rr.Result.ExitCode, *rr.Result.Output)
		if err != nil {
			if err == workers.ErrNotFound {
				notFoundEnvelope(w)
			} else if err == services.ErrAlreadyReported {
				badRequestEnvelope(w, r, err.Error())
			} else {
				writeServerError(w, r, err)
			}
			return
		}

		writeEnvelope(w, http.StatusOK, &envelope{
			Status: "OK",
			Meta:   meta{Link: fmt.Sprintf("/v1/order/%d", order.ID)},
		})
	})
}
