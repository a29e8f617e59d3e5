package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reelforge/reelforge/internal/client"
)

func NewRouter(backend *Backend, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", createSessionHandler(backend))
		r.Get("/sessions", listSessionsHandler(backend))
		r.Get("/sessions/{id}", getSessionHandler(backend))
		r.Post("/sessions/{id}/run", runSessionHandler(backend))
		r.Get("/sessions/{id}/download/{kind}", downloadHandler(backend))
		r.Get("/sessions/{id}/artifact/*", artifactHandler(backend))
		r.Post("/scripts", generateScriptsHandler(backend))
		r.Get("/voices", voicesHandler(backend))
	})

	return r
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		writeDetail(w, apiErr.Status, apiErr.Detail)
		return
	}
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

func createSessionHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req client.CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		idea := strings.TrimSpace(req.Idea)
		if idea == "" {
			writeDetail(w, http.StatusBadRequest, "'idea' is required")
			return
		}
		WriteJSON(w, http.StatusOK, client.CreateSessionResponse{SessionID: b.CreateSession(idea)})
	}
}

func generateScriptsHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req client.GenerateScriptsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := strings.TrimSpace(req.SessionID)
		if id == "" {
			writeDetail(w, http.StatusBadRequest, "Provide 'session_id'")
			return
		}
		resp, err := b.GenerateScripts(id)
		if err != nil {
			writeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func runSessionHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req client.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.ScriptKey) == "" {
			writeDetail(w, http.StatusBadRequest, "'script_key' is required")
			return
		}
		if err := b.Run(id, req); err != nil {
			writeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, client.RunResponse{
			SessionID: id,
			StatusURL: "/api/sessions/" + id,
			Message:   "Generation started",
		})
	}
}

func listSessionsHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, client.SessionsResponse{Sessions: b.List()})
	}
}

func getSessionHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := b.Snapshot(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, s)
	}
}

func downloadHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := client.ArtifactKind(chi.URLParam(r, "kind"))
		if !kind.Valid() {
			writeDetail(w, http.StatusBadRequest, "kind must be 'final' or 'subtitled'")
			return
		}
		data, err := b.Video(chi.URLParam(r, "id"), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		serveMedia(w, r, "video/mp4", data)
	}
}

func artifactHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, contentType, err := b.Media(chi.URLParam(r, "id"), chi.URLParam(r, "*"))
		if err != nil {
			writeError(w, err)
			return
		}
		serveMedia(w, r, contentType, data)
	}
}

func voicesHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flat, _ := strconv.ParseBool(r.URL.Query().Get("flat"))
		if !flat {
			WriteJSON(w, http.StatusOK, b.Voices())
			return
		}
		WriteJSON(w, http.StatusOK, client.VoicesResponse{Voices: b.FlatVoices()})
	}
}
