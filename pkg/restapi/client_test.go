package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestClient_SendsTokenHeaderAndDecodes(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"users": []map[string]any{{"id": 12}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "abc123")
	var out struct {
		Users []struct {
			ID int `json:"id"`
		} `json:"users"`
	}
	if err := c.Get(context.Background(), "users", url.Values{"current": {"true"}}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotAuth != `Token token="abc123"` {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPath != "/api/v1/users" || gotQuery != "current=true" {
		t.Fatalf("unexpected request %s?%s", gotPath, gotQuery)
	}
	if len(out.Users) != 1 || out.Users[0].ID != 12 {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestClient_PostsJSONBody(t *testing.T) {
	var got map[string]any
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "api/v2", "t")
	var out map[string]any
	if err := c.Post(context.Background(), "call_sessions/1/leads", map[string]any{"leads": []any{}}, &out); err != nil {
		t.Fatalf("post: %v", err)
	}
	if method != http.MethodPost {
		t.Fatalf("unexpected method %s", method)
	}
	if _, ok := got["leads"]; !ok {
		t.Fatalf("expected leads in body, got %v", got)
	}
	if out != nil {
		t.Fatalf("empty response must leave out untouched")
	}
}

func TestClient_NonSuccessReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	err := New(srv.URL, "", "t").Get(context.Background(), "call_sessions/current", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Path != "call_sessions/current" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("expected StatusCode helper to find status")
	}
	if StatusCode(errors.New("x")) != 0 {
		t.Fatalf("expected 0 for foreign errors")
	}
}

func TestClient_URL(t *testing.T) {
	c := New("https://api.example.com/", "/api/v1/", "")
	if got := c.URL("/call_sessions/current"); got != "https://api.example.com/api/v1/call_sessions/current" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestParseAuthorization(t *testing.T) {
	cases := map[string]string{
		`Token token="abc"`: "abc",
		`Token token=abc`:   "abc",
		"Bearer xyz":        "xyz",
	}
	for in, want := range cases {
		got, ok := ParseAuthorization(in)
		if !ok || got != want {
			t.Fatalf("%q: got %q ok=%v", in, got, ok)
		}
	}
	for _, bad := range []string{"", "Basic abc", `Token token=""`, "Token abc"} {
		if _, ok := ParseAuthorization(bad); ok {
			t.Fatalf("expected %q rejected", bad)
		}
	}
	if got, _ := ParseAuthorization(AuthorizationHeader("round")); got != "round" {
		t.Fatalf("expected header helper to parse back")
	}
}
