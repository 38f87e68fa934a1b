package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/qcpipe/pkg/model"
)

func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// httpStatus maps an API error code to the status it is served with.
func httpStatus(code model.ErrorCode) int {
	switch code {
	case model.ErrValidation:
		return http.StatusBadRequest
	case model.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusOK, model.Response{Data: data})
}

// respondPage writes one page of job entries. total counts every match of
// opts, not just the page.
func respondPage(w http.ResponseWriter, r *http.Request, entries []model.Entry, total int, opts model.ListOptions) {
	writeEnvelope(w, r, http.StatusOK, model.Response{
		Data: entries,
		Pagination: &model.Pagination{
			Total:   total,
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			HasMore: opts.Offset+opts.Limit < total,
		},
	})
}

func respondError(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	writeEnvelope(w, r, httpStatus(apiErr.Code), model.Response{Error: apiErr})
}

// respondQuery writes the result of a history query. A query error is
// reported as INTERNAL_ERROR.
func respondQuery(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		respondError(w, r, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	respondOK(w, r, data)
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, resp model.Response) {
	resp.Status = "ok"
	if resp.Error != nil {
		resp.Status = "error"
	}
	resp.RequestID = RequestIDFromContext(r.Context())
	resp.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
