package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestTrainRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /training-data": `{"id":"abc-ddl"}`,
	})
	client := ts.client()

	req := map[string]any{
		"ddl": map[string]string{"ddl_statement": "CREATE TABLE customers (name TEXT)"},
	}
	resp, err := client.post(ctx, "/training-data", req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["id"] != "abc-ddl" {
		t.Errorf("id = %q, want abc-ddl", result["id"])
	}

	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/training-data" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse: %v", err)
	}
	if body["ddl"] == nil {
		t.Error("body missing ddl payload")
	}
}

func TestTrainingListRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /training-data": `{"data":[{"id":"x-sql","question":"q","content":"c","training_data_type":"sql"}]}`,
	})
	client := ts.client()

	resp, err := client.get(ctx, "/training-data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var listing struct {
		Data []map[string]any `json:"data"`
	}
	if err := decodeJSON(resp, &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Data) != 1 || listing.Data[0]["id"] != "x-sql" {
		t.Errorf("listing = %+v", listing.Data)
	}
}

func TestTrainingRemoveRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /training-data/x-sql": `{"removed":true}`,
	})
	client := ts.client()

	resp, err := client.delete(ctx, "/training-data/x-sql")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	var result map[string]bool
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result["removed"] {
		t.Error("removed = false, want true")
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()

	resp, err := client.get(ctx, "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var out map[string]any
	if err := decodeJSON(resp, &out); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestClientOmitsAuthWithoutToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := ts.requests[0].Auth; got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}
