//go:build integration

package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/testutil"
)

func setupControlPlaneTest(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, testutil.ControlPlaneDSN(), zerolog.Nop())
	if err != nil {
		t.Skipf("control-plane db not reachable: %v", err)
	}
	t.Cleanup(db.Close)

	for _, table := range []string{"pipelines", "sinks", "sources", "tenants"} {
		db.Pool.Exec(ctx, "DELETE FROM "+table)
	}

	s := NewServer(NewStore(db.Pool), zerolog.Nop())
	return s.mux()
}

func TestTenantSourceSinkPipelineCRUD(t *testing.T) {
	mux := setupControlPlaneTest(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	post := func(path, body string) *http.Response {
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	resp := post("/api/v1/tenants", `{"id":"acme","name":"Acme Corp"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create tenant: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post("/api/v1/sources", `{
		"id":"src1","tenant_id":"acme",
		"config":{"host":"db.acme.internal","port":5432,"dbname":"app","username":"repl",
		          "publication":"pgsink_pub","slot_name":"pgsink_slot"}
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create source: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post("/api/v1/sinks", `{"id":"sink1","tenant_id":"acme","kind":"stdout","config":{}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create sink: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post("/api/v1/pipelines", `{
		"id":"pipe1","tenant_id":"acme","source_id":"src1","sink_id":"sink1",
		"config":{"batch":{"max_size":500,"max_fill_secs":2}}
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pipeline: expected 201, got %d", resp.StatusCode)
	}
	var created Pipeline
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.ID != "pipe1" {
		t.Fatalf("create pipeline: ID = %q, want %q", created.ID, "pipe1")
	}

	// The read_pipeline fix: the returned id is the pipeline's own id, not
	// its sink_id.
	resp, err := http.Get(srv.URL + "/api/v1/pipelines/pipe1")
	if err != nil {
		t.Fatalf("get pipeline: %v", err)
	}
	var got Pipeline
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got.ID != "pipe1" {
		t.Errorf("read_pipeline: id = %q, want the pipeline's own id %q (not sink_id %q)", got.ID, "pipe1", got.SinkID)
	}
	if got.Config.Batch.MaxSize != 500 {
		t.Errorf("read_pipeline: max_size = %d, want 500", got.Config.Batch.MaxSize)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/pipelines/pipe1", nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete pipeline: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAddTenantValidation(t *testing.T) {
	mux := setupControlPlaneTest(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/tenants", "application/json", bytes.NewBufferString(`{"id":"","name":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
