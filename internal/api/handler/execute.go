package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/gatekeeper/internal/api/response"
	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

const maxExecuteBody = 1 << 20

// Submitter defines the interface the execute handler depends on.
type Submitter interface {
	Submit(params models.JobParams) models.Job
}

// ExecuteResponse is the admission reply. JobID mirrors Handle for clients
// that still read the older field name.
type ExecuteResponse struct {
	Status string `json:"status"`
	Handle string `json:"handle"`
	JobID  string `json:"job_id"`
}

// NewExecuteHandler returns an http.HandlerFunc for POST /execute.
// Any well-formed JSON value is admitted. Object fields are passed to the job
// as-is; any other value yields empty params. Both are only checked once the
// job runs.
func NewExecuteHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBody))
		dec.UseNumber()

		var body any
		if err := dec.Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		params, ok := body.(map[string]any)
		if !ok {
			params = map[string]any{}
		}

		job := svc.Submit(models.JobParams(params))

		response.Write(w, http.StatusOK, ExecuteResponse{
			Status: "success",
			Handle: job.Handle,
			JobID:  job.Handle,
		})
	}
}
