package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcp "github.com/fredcamaral/gomcp-sdk"
)

func TestMCPHTTPHandlerRejectsNonPost(t *testing.T) {
	h := mcpHTTPHandler(mcp.NewServer("test", "0.0.0"))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()
	h(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", w.Code)
	}
}

func TestMCPHTTPHandlerRejectsMalformedJSON(t *testing.T) {
	h := mcpHTTPHandler(mcp.NewServer("test", "0.0.0"))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON-RPC, got %d", w.Code)
	}
}
