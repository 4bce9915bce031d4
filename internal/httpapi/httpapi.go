// Package httpapi implements the publisher-facing HTTP surface: signal
// publication, DLQ retry, and the chi router wiring for cmd/api. It is the
// one place that authenticates a raw API key off the Authorization header
// and turns it into an internal/ingest.AuthContext.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starksama/herald/internal/authcrypto"
	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/ingest"
	"github.com/starksama/herald/internal/store"
	"github.com/starksama/herald/internal/tunnel"
)

// API wires HTTP handlers to the ingest service and the tunnel server.
type API struct {
	store  store.Store
	ingest *ingest.Service
	tunnel *tunnel.Server
	log    *slog.Logger
}

func New(st store.Store, ing *ingest.Service, tun *tunnel.Server, log *slog.Logger) *API {
	return &API{store: st, ingest: ing, tunnel: tun, log: log}
}

// Router builds the chi mux: tunnel upgrade, signal publication, DLQ retry,
// and health routes, wrapped in chi's request-id and recoverer middleware
// per SPEC_FULL.md's ambient HTTP stack.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	})

	r.Get("/v1/tunnel", a.tunnel.ServeHTTP)

	r.Route("/v1/channels/{channelID}/signals", func(r chi.Router) {
		r.Use(a.requireAPIKey)
		r.Post("/", a.handlePublishSignal)
	})

	r.Route("/v1/dead-letters/{id}/retry", func(r chi.Router) {
		r.Use(a.requireAPIKey)
		r.Post("/", a.handleRetryDeadLetter)
	})

	return r
}

type ctxKey int

const authContextKey ctxKey = iota

// requireAPIKey resolves the Authorization: Bearer <raw key> header into an
// ingest.AuthContext and stores it on the request context. Every mutating
// route behind this middleware pulls its caller identity from there.
func (a *API) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		key, err := a.store.ApiKeys().GetByHash(r.Context(), authcrypto.HashAPIKey(raw))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			a.log.Error("httpapi: api key lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		_ = a.store.ApiKeys().TouchLastUsed(r.Context(), key.ID, time.Now())

		auth := ingest.AuthContext{OwnerType: key.OwnerType, OwnerID: key.OwnerID}
		ctx := context.WithValue(r.Context(), authContextKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) (ingest.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey).(ingest.AuthContext)
	return auth, ok
}

type publishSignalRequest struct {
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Urgency  *domain.Urgency `json:"urgency,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type publishSignalResponse struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *API) handlePublishSignal(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth context")
		return
	}
	channelID := chi.URLParam(r, "channelID")

	var req publishSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.ingest.PublishSignal(r.Context(), channelID, auth, ingest.PublishInput{
		Title:    req.Title,
		Body:     req.Body,
		Urgency:  req.Urgency,
		Metadata: req.Metadata,
	})
	if err != nil {
		a.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, publishSignalResponse{
		ID:        res.ID,
		ChannelID: res.ChannelID,
		Status:    string(res.Status),
		CreatedAt: res.CreatedAt,
	})
}

func (a *API) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok || auth.OwnerType != domain.OwnerPublisher {
		writeError(w, http.StatusForbidden, "only publishers may retry dead letters")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.ingest.RetryDeadLetter(r.Context(), id); err != nil {
		a.writeIngestError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error("httpapi: ingest operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
