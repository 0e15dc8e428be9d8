package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/hlog"
)

const maxJSONBodySize = 1024 * 1024

var errTrailingData = errors.New("invalid request body: unexpected data after the JSON value")

var jsonHandlerPool = sync.Pool{
	New: func() any {
		buffer := new(bytes.Buffer)
		encoder := json.NewEncoder(buffer)
		return &jsonHandler{buffer, encoder}
	},
}

type jsonHandler struct {
	buffer  *bytes.Buffer
	encoder *json.Encoder
}

// WriteJSON encodes value fully before sending anything, so encoding errors
// can still be reported with a proper status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, value any) {
	handler := jsonHandlerPool.Get().(*jsonHandler) //nolint:forcetypeassert
	defer func() {
		handler.buffer.Reset()
		jsonHandlerPool.Put(handler)
	}()

	if err := handler.encoder.Encode(value); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Unable to encode response")
		http.Error(w, "Unable to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := handler.buffer.WriteTo(w); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Error sending response to client")
	}
}

// ReadJSON decodes the request body into value, rejecting unknown fields.
func ReadJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return errTrailingData
	}
	return nil
}
