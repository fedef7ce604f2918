package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"academy-ledger/internal/domain"
)

type APIResponse struct {
	ErrorCode int    `json:"error_code"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
}

func Response(w http.ResponseWriter, message string, data any, errorCode int, status string, httpStatus int) {
	body, err := json.Marshal(APIResponse{
		ErrorCode: errorCode,
		Status:    status,
		Message:   message,
		Data:      data,
	})
	if err != nil {
		logrus.WithError(err).Error("encode response")
		httpStatus = http.StatusInternalServerError
		body = []byte(`{"error_code":500,"status":"error","message":"internal error","data":null}`)
	}
	writeBody(w, httpStatus, body)
}

func writeBody(w http.ResponseWriter, httpStatus int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logrus.WithError(err).Warn("write response")
	}
}

func Success(w http.ResponseWriter, message string, data any) {
	Response(w, message, data, 0, "success", http.StatusOK)
}

func SuccessCreated(w http.ResponseWriter, message string, data any) {
	Response(w, message, data, 0, "success", http.StatusCreated)
}

func SuccessAccepted(w http.ResponseWriter, message string, data any) {
	Response(w, message, data, 0, "success", http.StatusAccepted)
}

func Error(w http.ResponseWriter, message string, errorCode int, httpStatus int) {
	Response(w, message, nil, errorCode, "error", httpStatus)
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	Error(w, message, 400, http.StatusBadRequest)
}

func ErrorUnauthorized(w http.ResponseWriter, message string) {
	Error(w, message, 401, http.StatusUnauthorized)
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	Error(w, message, 404, http.StatusNotFound)
}

func ErrorInternal(w http.ResponseWriter, message string) {
	Error(w, message, 500, http.StatusInternalServerError)
}

func statusForKind(k domain.ErrorKind) int {
	switch k {
	case domain.KindValidation, domain.KindBalance:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFrom writes err in the envelope, with the ledger error code under
// data.code. Errors from outside the domain are reported as internal.
func ErrorFrom(w http.ResponseWriter, log *logrus.Entry, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.WithError(err).Error("request failed")
		ErrorInternal(w, "internal error")
		return
	}

	status := statusForKind(de.Kind)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("code", de.Code).Error("request failed")
	}
	Response(w, de.Error(), map[string]string{"code": de.Code}, status, "error", status)
}
