package response

import (
	"encoding/json"
	"net/http"

	"github.com/edvin/screensync/internal/model"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// Failure is the error body for operations that fail with a failure code.
type Failure struct {
	Error  string            `json:"error"`
	Code   model.FailureCode `json:"code"`
	Action model.Action      `json:"action"`
}

// WriteFailure writes an error carrying its failure code and the
// recommended next action.
func WriteFailure(w http.ResponseWriter, status int, code model.FailureCode, message string) {
	WriteJSON(w, status, Failure{Error: message, Code: code, Action: model.ActionFor(code)})
}

// StatusFor maps a failure code onto an HTTP status.
func StatusFor(code model.FailureCode) int {
	switch code {
	case "":
		return http.StatusOK
	case model.CodeScreenNotFound, model.CodeMediaNotFound:
		return http.StatusNotFound
	case model.CodeScreenNotLinked:
		return http.StatusConflict
	case model.CodeTransportError, model.CodeProvisionFailed, model.CodePlaylistUpdateFailed,
		model.CodePushFailed, model.CodeUnknownItemFormat:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
