package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"vpnkeys-bot/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError converts err at the boundary. Internal details never reach the caller.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}

	resp := errorResponse{Error: apperr.PublicMessage(err)}
	if ae, ok := apperr.As(err); ok {
		resp.Fields = ae.Fields
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidErr("Request body is empty", nil)
		}
		return apperr.InvalidErr("Invalid JSON body", nil)
	}
	return nil
}
