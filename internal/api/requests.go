package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/journal"
)

// handleListRequests returns finished requests from the journal.
//
// Query parameters:
//   - major, minor: filter by device (both required together)
//   - op: read or write
//   - state: completed, failed, or cancelled
//   - since: RFC 3339 timestamp; finished at or after
//   - limit: page size (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeServiceUnavailable(w, "request journal not enabled")
		return
	}

	filter, err := parseJournalFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal failed", "error", err)
		writeInternalError(w, "failed to list requests")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetRequest returns one journaled request by ID.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeServiceUnavailable(w, "request journal not enabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid request id")
		return
	}

	info, err := s.journal.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeNotFound(w, "request not found")
			return
		}
		s.logger.Error("reading journal failed", "id", id.String(), "error", err)
		writeInternalError(w, "failed to get request")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleInventory returns the persisted device inventory, including
// removed devices. Without a journal it falls back to the live registry.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		entries := s.registry.Entries()
		writeJSON(w, http.StatusOK, map[string]any{"devices": entries, "count": len(entries), "source": "registry"})
		return
	}

	inv, err := s.journal.Inventory(r.Context())
	if err != nil {
		s.logger.Error("reading inventory failed", "error", err)
		writeInternalError(w, "failed to read inventory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": inv, "count": len(inv), "source": "journal"})
}

// parseJournalFilter builds a journal.Filter from query parameters.
func parseJournalFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	var f journal.Filter

	major, minor := q.Get("major"), q.Get("minor")
	if major != "" || minor != "" {
		id, err := parseDeviceID(major, minor)
		if err != nil {
			return f, err
		}
		f.Device = &id
	}

	switch op := device.Operation(q.Get("op")); op {
	case "", device.OpRead, device.OpWrite:
		f.Op = op
	default:
		return f, &paramError{name: "op", value: string(op)}
	}

	if v := q.Get("state"); v != "" {
		st, ok := device.ParseRequestState(v)
		if !ok || !st.IsTerminal() {
			return f, &paramError{name: "state", value: v}
		}
		f.State = &st
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &paramError{name: "since", value: v}
		}
		f.Since = t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &paramError{name: p.name, value: v}
		}
		*p.dst = n
	}

	return f, nil
}
