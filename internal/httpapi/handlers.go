package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type sendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Tags    []string `json:"tags"`
}

func (req sendRequest) input() mailbox.SendInput {
	return mailbox.SendInput{To: req.To, Subject: req.Subject, Body: req.Body, Tags: req.Tags}
}

type replyRequest struct {
	Body string   `json:"body"`
	Tags []string `json:"tags"`
	To   []string `json:"to"`
}

func (req replyRequest) input() mailbox.ReplyInput {
	return mailbox.ReplyInput{Body: req.Body, Tags: req.Tags, To: req.To}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &core.ValidationError{Field: key, Reason: fmt.Sprintf("%q is not a non-negative integer", raw)}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &core.ValidationError{Field: key, Reason: fmt.Sprintf("%q is not a boolean", raw)}
	}
	return b, nil
}

func (s *Server) whoami(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	var entry *types.AddressBookEntry
	var admin bool
	err := s.retry(r.Context(), func() error {
		var err error
		if entry, err = session.GetEntry(r.Context(), session.Handle()); err != nil {
			return err
		}
		admin, err = session.IsAdmin(r.Context())
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"handle": session.Handle(),
		"admin":  admin,
		"entry":  entry,
	})
}

// ── Messages ─────────────────────────────────────────────────

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var msg *types.Message
	err := s.retry(r.Context(), func() error {
		var err error
		msg, err = sessionFrom(r).Send(r.Context(), req.input())
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) groupMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var msg *types.Message
	err := s.retry(r.Context(), func() error {
		var err error
		msg, err = sessionFrom(r).SendGroup(r.Context(), req.input())
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) broadcastMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var messages []types.Message
	err := s.retry(r.Context(), func() error {
		var err error
		messages, err = sessionFrom(r).SendBroadcast(r.Context(), req.input())
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"messages": messages})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	var msg *types.Message
	err := s.retry(r.Context(), func() error {
		var err error
		msg, err = sessionFrom(r).GetMessage(r.Context(), id)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	if msg == nil {
		respondNotFound(w, "message")
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := mailbox.ListMessagesOptions{
		ThreadID: q.Get("thread_id"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		SinceID:  q.Get("since_id"),
		Limit:    limit,
	}
	var messages []types.Message
	err = s.retry(r.Context(), func() error {
		var err error
		messages, err = sessionFrom(r).ListMessages(r.Context(), opts)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) searchMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := mailbox.SearchOptions{
		Fields: types.SearchField(q.Get("fields")),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Limit:  limit,
	}
	if opts.Fields == "both" {
		opts.Fields = types.SearchBoth
	}
	var messages []types.Message
	err = s.retry(r.Context(), func() error {
		var err error
		messages, err = sessionFrom(r).SearchMessages(r.Context(), q.Get("q"), opts)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) replyMessage(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "messageID")
	var msg *types.Message
	err := s.retry(r.Context(), func() error {
		var err error
		msg, err = sessionFrom(r).Reply(r.Context(), id, req.input())
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// ── Threads ──────────────────────────────────────────────────

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	archived, err := queryBool(r, "include_archived")
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	opts := mailbox.ListThreadsOptions{
		Participant:     r.URL.Query().Get("participant"),
		IncludeArchived: archived,
		Limit:           limit,
	}
	var threads []types.Thread
	err = s.retry(r.Context(), func() error {
		var err error
		threads, err = sessionFrom(r).ListThreads(r.Context(), opts)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	var thread *types.Thread
	err := s.retry(r.Context(), func() error {
		var err error
		thread, err = sessionFrom(r).GetThread(r.Context(), id)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	if thread == nil {
		respondNotFound(w, "thread")
		return
	}
	respondJSON(w, http.StatusOK, thread)
}

func (s *Server) replyThread(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "threadID")
	var msg *types.Message
	err := s.retry(r.Context(), func() error {
		var err error
		msg, err = sessionFrom(r).ReplyThread(r.Context(), id, req.input())
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) archiveThread(w http.ResponseWriter, r *http.Request) {
	s.mutateThread(w, r, func(session *mailbox.Session, id string) (*types.Thread, error) {
		return session.ArchiveThread(r.Context(), id)
	})
}

func (s *Server) unarchiveThread(w http.ResponseWriter, r *http.Request) {
	s.mutateThread(w, r, func(session *mailbox.Session, id string) (*types.Thread, error) {
		return session.UnarchiveThread(r.Context(), id)
	})
}

func (s *Server) setThreadMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")
	s.mutateThread(w, r, func(session *mailbox.Session, id string) (*types.Thread, error) {
		return session.SetThreadMetadata(r.Context(), id, key, req.Value)
	})
}

func (s *Server) deleteThreadMetadata(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.mutateThread(w, r, func(session *mailbox.Session, id string) (*types.Thread, error) {
		return session.SetThreadMetadata(r.Context(), id, key, "")
	})
}

func (s *Server) mutateThread(w http.ResponseWriter, r *http.Request, fn func(*mailbox.Session, string) (*types.Thread, error)) {
	id := chi.URLParam(r, "threadID")
	var thread *types.Thread
	err := s.retry(r.Context(), func() error {
		var err error
		thread, err = fn(sessionFrom(r), id)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, thread)
}

func (s *Server) getThreadMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	var metadata map[string]string
	err := s.retry(r.Context(), func() error {
		var err error
		metadata, err = sessionFrom(r).GetThreadMetadata(r.Context(), id)
		return err
	})
	if err != nil {
		s.respondMailboxError(w, r, err)
		return
	}
	if metadata == nil {
		respondNotFound(w, "thread")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"thread_id": id, "metadata": metadata})
}
