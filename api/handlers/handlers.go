// Package handlers implements the HTTP surface of the FlowDrop API: the
// post webhook that feeds the scoring engine and the stream endpoints that
// expose live balance views.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flowdroplabs/flowdrop/api/notify"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/scoring"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/store"
	"github.com/flowdroplabs/flowdrop/stream/pkg/superfluid"
)

type Config struct {
	Logger *slog.Logger
	Engine *scoring.Engine

	// Store is optional; when nil scored posts are not persisted and units
	// derive from the in-memory history only.
	Store *store.Store

	// Units is optional; when nil unit updates are never submitted.
	Units superfluid.UnitWriter

	// Notifier is optional; a nil notifier is a no-op.
	Notifier *notify.SlackNotifier

	// Streams is required for the stream endpoints.
	Streams *StreamRegistry
}

func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Engine == nil {
		return errors.New("scoring engine is required")
	}
	if c.Streams == nil {
		return errors.New("stream registry is required")
	}
	return nil
}

type Handlers struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{log: cfg.Logger, cfg: cfg}, nil
}

// maxBodyBytes caps webhook payloads at 1MB.
const maxBodyBytes = 1 << 20

func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
