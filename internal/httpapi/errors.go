package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/corewave-ai/litegate/internal/model"
)

// apiError is the standard `{error:{...}}` body, extended with
// param/code since the core's error taxonomy carries both.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func errorResponse(ge *model.GatewayError) apiError {
	var e apiError
	e.Error.Message = ge.Message
	e.Error.Type = string(ge.Kind)
	e.Error.Param = ge.Param
	e.Error.Code = ge.Code
	return e
}

var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps a GatewayError onto its HTTP status and the standard
// error body, setting Retry-After when the error carries one.
func writeError(w http.ResponseWriter, err error) {
	ge := model.AsGatewayError(err)
	if ge.RetryAfter > 0 {
		w.Header()["Retry-After"] = []string{strconv.Itoa(ge.RetryAfter)}
	}
	writeJSON(w, ge.Kind.HTTPStatus(), errorResponse(ge))
}
