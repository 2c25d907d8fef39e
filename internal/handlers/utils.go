package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return models.Validationf("decode request", "invalid JSON body: %v", err)
	}
	return nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict, models.KindStateDesync:
		return http.StatusConflict
	case models.KindTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string           `json:"error"`
	Kind  models.ErrorKind `json:"kind"`
}

// writeError reports validation and conflict errors inline. Transport failures get a
// generic retry message; anything unclassified is logged and hidden.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		log.WithError(err).Warn("store unavailable")
		msg = "connection issue, try again"
	case http.StatusInternalServerError:
		log.WithError(err).Error("unhandled error")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: models.KindOf(err)})
}
