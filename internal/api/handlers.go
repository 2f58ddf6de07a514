package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notetree/internal/checksum"
	"github.com/starford/notetree/internal/models"
	"github.com/starford/notetree/internal/render"
	"github.com/starford/notetree/internal/workspace"
)

const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	ws  *workspace.Workspace
	rnd *render.Renderer
}

// NewHandler creates a new Handler.
func NewHandler(ws *workspace.Workspace, rnd *render.Renderer) *Handler {
	return &Handler{ws: ws, rnd: rnd}
}

func (h *Handler) detail(rec models.NoteRecord) NoteDetail {
	return NoteDetail{
		NoteRecord: rec,
		Checksum:   checksum.Sum(rec.Raw),
		Syncing:    h.ws.IsSyncing(rec.ID),
		Active:     h.ws.ActiveID() == rec.ID,
	}
}

// Tree handles GET /api/tree.
//
//	@Summary		Get the note forest
//	@Tags			tree
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, _ *http.Request) {
	roots := h.ws.Forest()
	if roots == nil {
		roots = []models.DerivedNote{}
	}
	writeJSON(w, http.StatusOK, TreeResponse{Roots: roots})
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes, optionally filtered by name
//	@Tags			notes
//	@Produce		json
//	@Param			q	query		string	false	"Substring of the note name"
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.ws.Search(r.URL.Query().Get("q"))
	if notes == nil {
		notes = []models.NoteRecord{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ws.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.Header().Set("ETag", `"`+checksum.Sum(rec.Raw)+`"`)
	writeJSON(w, http.StatusOK, h.detail(rec))
}

// PreviewNote handles GET /api/notes/{id}/preview.
//
//	@Summary		Render a note to sanitised HTML
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	PreviewResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/preview [get]
func (h *Handler) PreviewNote(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ws.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	html, err := h.rnd.HTML(rec.Raw)
	if err != nil {
		writeError(w, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{ID: rec.ID, HTML: html})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Add a note at the root or under a parent
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	false	"Parent and initial text"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	rec, err := h.ws.AddNote(r.Context(), req.ParentID, req.Raw)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.detail(rec))
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Edit the active note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Note id"
//	@Param			If-Match	header		string				false	"SHA-256 checksum of the text being replaced"
//	@Param			body		body		UpdateNoteRequest	true	"New raw text"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	rec, err := h.ws.EditNote(chi.URLParam(r, "id"), req.Raw, r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	w.Header().Set("ETag", `"`+checksum.Sum(rec.Raw)+`"`)
	writeJSON(w, http.StatusOK, h.detail(rec))
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note and its whole subtree
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	DeleteResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	ids, err := h.ws.DeleteNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "delete note", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: ids})
}

// SelectNote handles POST /api/notes/{id}/select.
//
//	@Summary		Make a note the active note
//	@Tags			session
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/select [post]
func (h *Handler) SelectNote(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ws.SelectNote(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "select note", err)
		return
	}
	writeJSON(w, http.StatusOK, h.detail(rec))
}

// Save handles POST /api/save.
//
//	@Summary		Save the active note now
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	StateResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.SaveActiveNote(r.Context()); err != nil {
		writeError(w, "save note", err)
		return
	}
	writeJSON(w, http.StatusOK, h.ws.Status())
}

// State handles GET /api/state.
//
//	@Summary		Active note, dirty flag, countdown and syncing ids
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	StateResponse
//	@Security		BearerAuth
//	@Router			/state [get]
func (h *Handler) State(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.Status())
}

// Reload handles POST /api/reload.
//
//	@Summary		Reload every note from the store
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reload [post]
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Reload(r.Context()); err != nil {
		writeError(w, "reload", err)
		return
	}
	h.Tree(w, r)
}
