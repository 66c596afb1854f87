package httpapi

import (
	"net/http"
	"strconv"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/go-chi/chi/v5"
)

type entryRequest struct {
	Handle      string   `json:"handle"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type entryUpdateRequest struct {
	DisplayName     *string   `json:"display_name"`
	Description     *string   `json:"description"`
	Tags            *[]string `json:"tags"`
	IsActive        *bool     `json:"is_active"`
	ExpectedVersion *int64    `json:"expected_version"`
}

func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input := mailbox.EntryInput{Handle: req.Handle, DisplayName: req.DisplayName, Description: req.Description, Tags: req.Tags}
	var entry *types.AddressBookEntry
	err := s.retry(r.Context(), func() error {
		var err error
		entry, err = sessionFrom(r).AddEntry(r.Context(), input)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	var entry *types.AddressBookEntry
	err := s.retry(r.Context(), func() error {
		var err error
		entry, err = sessionFrom(r).GetEntry(r.Context(), handle)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	if entry == nil {
		respondNotFound(w, "address book entry")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	update := mailbox.EntryUpdate{
		DisplayName:     req.DisplayName,
		Description:     req.Description,
		Tags:            req.Tags,
		IsActive:        req.IsActive,
		ExpectedVersion: req.ExpectedVersion,
	}
	handle := chi.URLParam(r, "handle")
	var entry *types.AddressBookEntry
	err := s.retry(r.Context(), func() error {
		var err error
		entry, err = sessionFrom(r).UpdateEntry(r.Context(), handle, update)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) deactivateEntry(w http.ResponseWriter, r *http.Request) {
	var expected *int64
	if raw := r.URL.Query().Get("expected_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.respondMailboxError(w, r, &core.ValidationError{Field: "expected_version", Reason: "must be an integer"})
			return
		}
		expected = &v
	}
	handle := chi.URLParam(r, "handle")
	var entry *types.AddressBookEntry
	err := s.retry(r.Context(), func() error {
		var err error
		entry, err = sessionFrom(r).DeactivateEntry(r.Context(), handle, expected)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	activeOnly, err := queryBool(r, "active_only")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := mailbox.ListEntriesOptions{
		ActiveOnly:    activeOnly,
		Tag:           q.Get("tag"),
		HandlePattern: q.Get("handle_pattern"),
		Limit:         limit,
	}
	var entries []types.AddressBookEntry
	err = s.retry(r.Context(), func() error {
		var err error
		entries, err = sessionFrom(r).ListEntries(r.Context(), opts)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) searchEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	activeOnly, err := queryBool(r, "active_only")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := mailbox.SearchEntriesOptions{Tag: q.Get("tag"), ActiveOnly: activeOnly, Limit: limit}
	var entries []types.AddressBookEntry
	err = s.retry(r.Context(), func() error {
		var err error
		entries, err = sessionFrom(r).SearchEntries(r.Context(), q.Get("q"), opts)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := mailbox.EventFilter{
		Actor:     q.Get("actor"),
		Target:    q.Get("target"),
		EventType: types.EventType(q.Get("event_type")),
		Limit:     limit,
	}
	var events []types.AuditEvent
	err = s.retry(r.Context(), func() error {
		var err error
		events, err = sessionFrom(r).ListEvents(r.Context(), filter)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}
