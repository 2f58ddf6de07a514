// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note workspace to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notetree/internal/apperr"
	"github.com/starford/notetree/internal/checksum"
	"github.com/starford/notetree/internal/models"
	"github.com/starford/notetree/internal/workspace"
)

const formatURI = "notetree://note-format"

// Server wraps the MCP server with notetree tools.
type Server struct {
	mcp *server.MCPServer
	ws  *workspace.Workspace
}

// New creates a new MCP server with all notetree tools registered.
func New(ws *workspace.Workspace, version string) *Server {
	s := &Server{ws: ws}

	s.mcp = server.NewMCPServer(
		"notetree",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tree",
		mcp.WithDescription("Return the whole note forest as nested JSON (id, name, children)."),
	), s.listTree)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Find notes whose name contains the query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Substring of the note name")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note's Markdown text, its children and its checksum."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Add a note at the root or under a parent. "+
			"Read the "+formatURI+" resource for how names are derived."),
		mcp.WithString("parent_id", mcp.Description("Parent note id; empty adds a root note")),
		mcp.WithString("raw", mcp.Description("Initial Markdown text; defaults to '# Untitled'")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("select_note",
		mcp.WithDescription("Make a note the active note. Fails while the active note has unsaved changes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.selectNote)

	s.mcp.AddTool(mcp.NewTool("edit_note",
		mcp.WithDescription("Replace the text of the active note. The change is unsaved until save_note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the active note")),
		mcp.WithString("raw", mcp.Required(), mcp.Description("Complete new Markdown text")),
		mcp.WithString("if_match", mcp.Description("Checksum from read_note; rejects the edit if the text changed since")),
	), s.editNote)

	s.mcp.AddTool(mcp.NewTool("save_note",
		mcp.WithDescription("Save the active note to the store now."),
	), s.saveNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and every note below it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("get_note_format",
		mcp.WithDescription("Returns the note format and editing workflow. "+
			"Call this before adding or editing notes."),
	), s.getNoteFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Note Format",
			mcp.WithResourceDescription("How note names are derived and how the edit/save workflow works."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError turns a workspace error into a message the model can act on.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrUnsavedChanges):
		return mcp.NewToolResultError("the active note has unsaved changes; call save_note first")
	case errors.Is(err, apperr.ErrNoActiveNote):
		return mcp.NewToolResultError("no note is active; call select_note first")
	case errors.Is(err, apperr.ErrNotActive):
		return mcp.NewToolResultError("only the active note can be edited; call select_note first")
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("the note changed since it was read; read it again")
	}
	return mcp.NewToolResultError(err.Error())
}

type noteView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parentId,omitempty"`
	ChildIDs []string `json:"childIds"`
	Checksum string   `json:"checksum"`
	Active   bool     `json:"active"`
	Raw      string   `json:"raw"`
}

type treeNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Children []treeNode `json:"children,omitempty"`
}

func (s *Server) listTree(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var conv func(ns []models.DerivedNote) []treeNode
	conv = func(ns []models.DerivedNote) []treeNode {
		out := make([]treeNode, 0, len(ns))
		for _, n := range ns {
			out = append(out, treeNode{ID: n.ID, Name: n.Name, Children: conv(n.Children)})
		}
		return out
	}
	return jsonResult(conv(s.ws.Forest()))
}

func (s *Server) searchNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type hit struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	hits := []hit{}
	for _, r := range s.ws.Search(query) {
		hits = append(hits, hit{ID: r.ID, Name: r.Name})
	}
	return jsonResult(hits)
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, ok := s.ws.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(noteView{
		ID:       rec.ID,
		Name:     rec.Name,
		ParentID: rec.ParentID,
		ChildIDs: rec.ChildIDs,
		Checksum: checksum.Sum(rec.Raw),
		Active:   s.ws.ActiveID() == rec.ID,
		Raw:      rec.Raw,
	})
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := s.ws.AddNote(ctx, req.GetString("parent_id", ""), req.GetString("raw", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (%s)", rec.ID, rec.Name)), nil
}

func (s *Server) selectNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.ws.SelectNote(id)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("active: %s (%s)", rec.ID, rec.Name)), nil
}

func (s *Server) editNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("raw")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.ws.EditNote(id, raw, req.GetString("if_match", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("edited: %s (%s), unsaved; checksum %s",
		rec.ID, rec.Name, checksum.Sum(rec.Raw))), nil
}

func (s *Server) saveNote(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.ws.SaveActiveNote(ctx); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", s.ws.ActiveID())), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := s.ws.DeleteNote(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string][]string{"deleted": ids})
}

func (s *Server) getNoteFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormat), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormat,
		},
	}, nil
}
