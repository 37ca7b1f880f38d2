// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the signed-in user's cat records as tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/records"
	"github.com/starford/catnip/internal/view"
)

// CatsURI names the resource holding the current cat list.
const CatsURI = "catnip://cats"

// Server wraps the MCP server with the cat tools.
type Server struct {
	mcp   *server.MCPServer
	store *records.Store
}

// New creates a new MCP server backed by store. The store's client must be
// signed in.
func New(store *records.Store, version string) *Server {
	s := &Server{store: store}

	s.mcp = server.NewMCPServer(
		"Catnip",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_cats",
		mcp.WithDescription("List your cats, newest first."),
	), s.listCats)

	s.mcp.AddTool(mcp.NewTool("add_cat",
		mcp.WithDescription(fmt.Sprintf("Add a cat. Age must be a whole number from %d to %d.", view.MinAge, view.MaxAge)),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the cat")),
		mcp.WithNumber("age", mcp.Required(), mcp.Description("Age in years")),
		mcp.WithString("breed", mcp.Required(), mcp.Description("Breed of the cat")),
	), s.addCat)

	s.mcp.AddTool(mcp.NewTool("update_cat",
		mcp.WithDescription("Change one or more fields of a cat. Omitted fields keep their value."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the cat, as returned by list_cats")),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithNumber("age", mcp.Description("New age in years")),
		mcp.WithString("breed", mcp.Description("New breed")),
	), s.updateCat)

	s.mcp.AddTool(mcp.NewTool("delete_cat",
		mcp.WithDescription("Delete a cat."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the cat, as returned by list_cats")),
	), s.deleteCat)

	s.mcp.AddResource(
		mcp.NewResource(CatsURI, "Cats",
			mcp.WithResourceDescription("The current list of your cats as JSON."),
			mcp.WithMIMEType("application/json"),
		),
		s.readCatsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) catsJSON(ctx context.Context) (string, error) {
	s.store.Load(ctx)
	out, err := json.MarshalIndent(s.store.State().Cats, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Server) listCats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.catsJSON(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) readCatsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := s.catsJSON(ctx)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CatsURI,
			MIMEType: "application/json",
			Text:     out,
		},
	}, nil
}

func (s *Server) addCat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	age, err := req.RequireFloat("age")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	breed, err := req.RequireString("breed")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	form := view.CatForm{Name: name, Age: formatAge(age), Breed: breed}
	draft, err := form.Draft()
	if err != nil {
		return mcp.NewToolResultError("invalid cat: " + err.Error()), nil
	}
	cat, err := s.store.Add(ctx, draft)
	if err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added: %s (%s)", cat.Name, cat.ID)), nil
}

func (s *Server) updateCat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Start from the stored cat so partial updates pass the same checks
	// as the edit form.
	s.store.Load(ctx)
	var current *models.Cat
	for _, c := range s.store.State().Cats {
		if c.ID == id {
			current = &c
			break
		}
	}
	if current == nil {
		return mcp.NewToolResultError(toolError(apperr.ErrNotFound)), nil
	}

	form := view.FormFromCat(*current)
	args := req.GetArguments()
	if _, ok := args["name"]; ok {
		form.Name = req.GetString("name", "")
	}
	if _, ok := args["age"]; ok {
		age, err := req.RequireFloat("age")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		form.Age = formatAge(age)
	}
	if _, ok := args["breed"]; ok {
		form.Breed = req.GetString("breed", "")
	}

	draft, err := form.Draft()
	if err != nil {
		return mcp.NewToolResultError("invalid cat: " + err.Error()), nil
	}
	cat, err := s.store.Update(ctx, id, models.PatchFromDraft(draft))
	if err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s (%s)", cat.Name, cat.ID)), nil
}

func (s *Server) deleteCat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

// formatAge keeps fractional ages visible to validation instead of
// truncating them.
func formatAge(age float64) string {
	return strconv.FormatFloat(age, 'f', -1, 64)
}

func toolError(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "cat not found"
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "not signed in"
	}
	if msg, ok := apperr.Message(err); ok {
		return msg
	}
	return err.Error()
}
