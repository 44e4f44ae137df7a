package server

import (
	"encoding/json"
	"net/http"

	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/types"
)

// StatusOf maps an invocation outcome to an HTTP status.
func StatusOf(result types.UploadResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Stage {
	case types.StageSchema, types.StageSanity:
		return http.StatusUnprocessableEntity
	case types.StageStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func ResponseError(w http.ResponseWriter, err error) {
	info, ok := errors.AsErrorInfo(err)
	if !ok {
		info = errors.ErrorInfo{
			HttpStatus: http.StatusInternalServerError,
			Code:       errors.ErrCodeUnknow,
			Message:    err.Error(),
			Detail:     err.Error(),
		}
	}
	ResponseJSON(w, info.HttpStatus, info)
}

func ResponseOK(w http.ResponseWriter, data any) {
	ResponseJSON(w, http.StatusOK, data)
}

func ResponseJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
