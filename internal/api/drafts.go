package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/deskflow/internal/storage"
)

// parseStatuses reads a comma-separated status filter. An absent filter
// means the pending set.
func parseStatuses(raw string) ([]storage.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return storage.PendingStatuses, nil
	}
	var out []storage.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := storage.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func handleListDrafts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := parseStatuses(r.URL.Query().Get("status"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		records, err := deps.Reviewer.List(r.Context(), statuses)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if records == nil {
			records = []storage.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleGetDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Reviewer.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type statusPatch struct {
	Status string `json:"status"`
}

func handlePatchDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req statusPatch
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rec, err := deps.Reviewer.SetStatus(r.Context(), chi.URLParam(r, "id"), storage.Status(strings.TrimSpace(req.Status)))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleApproveDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Reviewer.Approve(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleSendDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := deps.Reviewer.Send(r.Context(), id)
		if err != nil {
			deps.Logger.Warn("draft send failed", "ticket_id", id, "error", err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleListTickets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		tickets, err := deps.Store.ListTickets(r.Context(), limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if tickets == nil {
			tickets = []storage.Ticket{}
		}
		writeJSON(w, http.StatusOK, tickets)
	}
}

func handleGetTicket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTicket(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}
