package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/records"
	"github.com/starford/catnip/internal/testutil"
)

func testServer(t *testing.T) (*Server, *records.Store) {
	t.Helper()
	backend := testutil.LocalBackend(t)
	client := testutil.SignedInClient(t, backend, "mcp@example.com")
	store := records.NewStore(client, testutil.Logger())
	return New(store, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_cats":
		result, err = srv.listCats(ctx, req)
	case "add_cat":
		result, err = srv.addCat(ctx, req)
	case "update_cat":
		result, err = srv.updateCat(ctx, req)
	case "delete_cat":
		result, err = srv.deleteCat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func listed(t *testing.T, srv *Server) []models.Cat {
	t.Helper()
	r := callTool(t, srv, "list_cats", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("list_cats: %s", resultText(r))
	}
	var cats []models.Cat
	if err := json.Unmarshal([]byte(resultText(r)), &cats); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return cats
}

func TestAddAndListCats(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "add_cat", map[string]interface{}{
		"name":  "Tom",
		"age":   float64(3),
		"breed": "Tabby",
	})
	if r.IsError || !strings.HasPrefix(resultText(r), "added: Tom") {
		t.Fatalf("add result = %q", resultText(r))
	}

	cats := listed(t, srv)
	if len(cats) != 1 || cats[0].Name != "Tom" || cats[0].Age != 3 {
		t.Errorf("cats = %+v", cats)
	}
}

func TestAddCatValidation(t *testing.T) {
	srv, _ := testServer(t)

	for _, age := range []float64{-1, 31, 2.5} {
		r := callTool(t, srv, "add_cat", map[string]interface{}{
			"name":  "Tom",
			"age":   age,
			"breed": "Tabby",
		})
		if !r.IsError {
			t.Errorf("age %v accepted", age)
		}
	}

	r := callTool(t, srv, "add_cat", map[string]interface{}{"name": "Tom"})
	if !r.IsError {
		t.Error("missing fields accepted")
	}
	if n := len(listed(t, srv)); n != 0 {
		t.Errorf("cats = %d, want 0", n)
	}
}

func TestUpdateCatKeepsOmittedFields(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "add_cat", map[string]interface{}{"name": "Tom", "age": float64(3), "breed": "Tabby"})
	id := listed(t, srv)[0].ID

	r := callTool(t, srv, "update_cat", map[string]interface{}{"id": id, "age": float64(4)})
	if r.IsError {
		t.Fatalf("update: %s", resultText(r))
	}
	cat := listed(t, srv)[0]
	if cat.Name != "Tom" || cat.Age != 4 || cat.Breed != "Tabby" {
		t.Errorf("cat = %+v", cat)
	}
}

func TestUpdateCatMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "update_cat", map[string]interface{}{"id": "nope", "name": "X"})
	if !r.IsError || resultText(r) != "cat not found" {
		t.Errorf("result = %q, want error %q", resultText(r), "cat not found")
	}
}

func TestDeleteCat(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "add_cat", map[string]interface{}{"name": "Tom", "age": float64(3), "breed": "Tabby"})
	id := listed(t, srv)[0].ID

	r := callTool(t, srv, "delete_cat", map[string]interface{}{"id": id})
	if r.IsError || resultText(r) != "deleted: "+id {
		t.Fatalf("delete result = %q", resultText(r))
	}
	if n := len(listed(t, srv)); n != 0 {
		t.Errorf("cats = %d, want 0", n)
	}
}

func TestSignedOutAddFails(t *testing.T) {
	backend := testutil.LocalBackend(t)
	store := records.NewStore(testutil.Client(t, backend), testutil.Logger())
	srv := New(store, "test")

	r := callTool(t, srv, "add_cat", map[string]interface{}{"name": "Tom", "age": float64(3), "breed": "Tabby"})
	if !r.IsError || resultText(r) != "not signed in" {
		t.Errorf("result = %q", resultText(r))
	}
}
