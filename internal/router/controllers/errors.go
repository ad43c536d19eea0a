package controllers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	serviceerrors "github.com/textileio/go-tradesubmit/pkg/errors"
	"github.com/textileio/go-tradesubmit/pkg/nonce"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusOf maps an error to the HTTP status of its class.
func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRecordNotFound), errors.Is(err, nonce.ErrNotOutstanding):
		return http.StatusNotFound
	case errors.Is(err, txn.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotPending),
		errors.Is(err, txn.ErrNonceConflict),
		errors.Is(err, nonce.ErrNonceGap):
		return http.StatusConflict
	case errors.Is(err, txn.ErrFeeCapExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, txn.ErrSignerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, txn.ErrBroadcastFailure), errors.Is(err, txn.ErrUnderpriced):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, r *http.Request, err error, rec *txn.Record) {
	status := statusOf(err)
	body := serviceerrors.ServiceError{Message: err.Error()}
	if rec != nil {
		body.ID = rec.ID
		body.Reason = string(rec.Reason)
	}
	if status == http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		body.Message = "internal error"
	}
	writeJSON(rw, status, body)
}

func badRequest(rw http.ResponseWriter, msg string) {
	writeJSON(rw, http.StatusBadRequest, serviceerrors.ServiceError{Message: msg})
}
