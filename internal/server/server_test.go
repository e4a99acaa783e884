package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"talentops/internal/config"
	"talentops/internal/db"
	"talentops/internal/domain"
	"talentops/internal/engine"
	"talentops/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("acme"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	now := eng.Now().UTC().Format(time.RFC3339)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := eng.Repo.EnsureOrg(ctx, tx, "acme", "Acme", now); err != nil {
		t.Fatalf("ensure org: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, p := range []domain.Profile{
		{ID: "emp-1", OrgID: "acme", FullName: "Dana Fields", Role: domain.RoleEmployee, CreatedAt: now},
		{ID: "mgr-1", OrgID: "acme", FullName: "Robin Okafor", Role: domain.RoleManager, CreatedAt: now},
	} {
		if err := eng.Repo.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}

	handler, err := New(Config{
		Engine: eng,
		Auth: AuthConfig{
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return testServer{URL: "http://" + ln.Addr().String(), Engine: eng}
}

// doJSON issues a request as the given actor and decodes the JSON response
// into a generic map.
func doJSON(t *testing.T, method, url string, body any, actor string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error envelope in %v", body)
	}
	code, _ := env["code"].(string)
	return code
}

func createTaskHTTP(t *testing.T, ts testServer, title string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, ts.URL+"/v0/orgs/acme/tasks",
		map[string]any{"title": title, "assigned_to": "emp-1"}, "mgr-1")
	if status != http.StatusCreated {
		t.Fatalf("create task: status %d body %v", status, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create task returned no id: %v", body)
	}
	return id
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	status, body := doJSON(t, http.MethodGet, ts.URL+"/v0/orgs/acme/tasks", nil, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "unauthorized" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	ts := newTestServer(t)
	status, body := doJSON(t, http.MethodPost, ts.URL+"/v0/orgs/acme/tasks",
		map[string]any{"assigned_to": "emp-1"}, "mgr-1")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d body %v", status, body)
	}
}

func TestGetUnknownTask(t *testing.T) {
	ts := newTestServer(t)
	status, body := doJSON(t, http.MethodGet, ts.URL+"/v0/orgs/acme/tasks/nope", nil, "mgr-1")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Fatalf("code = %q", code)
	}
}

func TestWorkflowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := createTaskHTTP(t, ts, "Ship onboarding flow")
	base := fmt.Sprintf("%s/v0/orgs/acme/tasks/%s", ts.URL, id)

	// Proof against the wrong phase conflicts.
	status, body := doJSON(t, http.MethodPost, base+"/proof",
		map[string]any{"phase": "deployment", "proof_url": "https://x"}, "emp-1")
	if status != http.StatusConflict {
		t.Fatalf("wrong phase: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "invalid_phase" {
		t.Fatalf("wrong phase code = %q", code)
	}

	status, body = doJSON(t, http.MethodPost, base+"/proof",
		map[string]any{"phase": "requirement_refiner", "proof_url": "https://docs/req"}, "emp-1")
	if status != http.StatusOK {
		t.Fatalf("proof: status %d body %v", status, body)
	}
	if body["sub_state"] != string(domain.SubStatePendingValidation) {
		t.Fatalf("sub_state = %v", body["sub_state"])
	}

	// An employee may not approve.
	status, body = doJSON(t, http.MethodPost, base+"/approve", nil, "emp-1")
	if status != http.StatusForbidden {
		t.Fatalf("employee approve: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "forbidden" {
		t.Fatalf("employee approve code = %q", code)
	}

	status, body = doJSON(t, http.MethodPost, base+"/approve", nil, "mgr-1")
	if status != http.StatusOK {
		t.Fatalf("approve: status %d body %v", status, body)
	}
	if body["outcome"] != "approved" {
		t.Fatalf("outcome = %v", body["outcome"])
	}
	task, _ := body["task"].(map[string]any)
	if task["lifecycle_state"] != string(domain.PhaseDesignGuidance) {
		t.Fatalf("lifecycle = %v", task["lifecycle_state"])
	}

	// Re-approval is an explicit no-op, not an error.
	status, body = doJSON(t, http.MethodPost, base+"/approve", nil, "mgr-1")
	if status != http.StatusOK {
		t.Fatalf("re-approve: status %d body %v", status, body)
	}
	if body["outcome"] != "no_op" {
		t.Fatalf("re-approve outcome = %v", body["outcome"])
	}
}

func TestRejectOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := createTaskHTTP(t, ts, "Draft design doc")
	base := fmt.Sprintf("%s/v0/orgs/acme/tasks/%s", ts.URL, id)

	status, body := doJSON(t, http.MethodPost, base+"/proof",
		map[string]any{"phase": "requirement_refiner", "proof_text": "see attached"}, "emp-1")
	if status != http.StatusOK {
		t.Fatalf("proof: status %d body %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, base+"/reject", nil, "mgr-1")
	if status != http.StatusOK {
		t.Fatalf("reject: status %d body %v", status, body)
	}
	if body["sub_state"] != string(domain.SubStateInProgress) {
		t.Fatalf("sub_state = %v", body["sub_state"])
	}
	if body["lifecycle_state"] != string(domain.PhaseRequirementRefiner) {
		t.Fatalf("lifecycle = %v", body["lifecycle_state"])
	}

	status, body = doJSON(t, http.MethodPost, base+"/reject", nil, "mgr-1")
	if status != http.StatusConflict {
		t.Fatalf("second reject: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "not_pending_validation" {
		t.Fatalf("second reject code = %q", code)
	}
}

func TestIssueFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := createTaskHTTP(t, ts, "Provision environment")
	base := fmt.Sprintf("%s/v0/orgs/acme/tasks/%s", ts.URL, id)

	status, body := doJSON(t, http.MethodPost, base+"/issues",
		map[string]any{"text": "Blocked on credentials"}, "emp-1")
	if status != http.StatusOK {
		t.Fatalf("report: status %d body %v", status, body)
	}
	if body["open_issue"] != true {
		t.Fatalf("open_issue = %v", body["open_issue"])
	}

	// Resolution is a supervisory action.
	status, body = doJSON(t, http.MethodPost, base+"/issues/resolve", nil, "emp-1")
	if status != http.StatusForbidden {
		t.Fatalf("employee resolve: status %d body %v", status, body)
	}

	status, body = doJSON(t, http.MethodPost, base+"/issues/resolve", nil, "mgr-1")
	if status != http.StatusOK {
		t.Fatalf("resolve: status %d body %v", status, body)
	}
	if body["open_issue"] != false {
		t.Fatalf("open_issue after resolve = %v", body["open_issue"])
	}
}

func TestRoleScopedListing(t *testing.T) {
	ts := newTestServer(t)
	createTaskHTTP(t, ts, "Visible to Dana")
	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v0/orgs/acme/tasks",
		map[string]any{"title": "Manager only"}, "mgr-1")
	if status != http.StatusCreated {
		t.Fatalf("second create: status %d", status)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v0/orgs/acme/tasks", nil)
	req.Header.Set("X-Actor-Id", "emp-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var tasks []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(tasks) != 1 || tasks[0]["title"] != "Visible to Dana" {
		t.Fatalf("employee sees %v", tasks)
	}
}

func TestAPIKeysAreOrgScoped(t *testing.T) {
	ts := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v0/keys",
		map[string]any{"name": "ci"}, "mgr-1")
	if status != http.StatusCreated {
		t.Fatalf("create key: status %d body %v", status, body)
	}
	if body["org_id"] != "acme" {
		t.Fatalf("key org_id = %v", body["org_id"])
	}
	secret, _ := body["key"].(string)
	if secret == "" {
		t.Fatalf("create key returned no secret: %v", body)
	}

	// The stored key authenticates subsequent requests for its owner.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v0/me", nil)
	req.Header.Set("X-Api-Key", secret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	var me map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me["actor_id"] != "mgr-1" || me["source"] != "api_key" {
		t.Fatalf("me = %v", me)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v0/keys", nil)
	req.Header.Set("X-Actor-Id", "mgr-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	defer resp.Body.Close()
	var keys []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	if len(keys) != 1 || keys[0]["org_id"] != "acme" || keys[0]["actor_id"] != "mgr-1" {
		t.Fatalf("keys = %v", keys)
	}
	if _, leaked := keys[0]["key"]; leaked {
		t.Fatalf("listing leaked the secret: %v", keys[0])
	}
}

func TestUpdateTaskRejectsWorkflowStatus(t *testing.T) {
	ts := newTestServer(t)
	id := createTaskHTTP(t, ts, "Hold me")
	base := fmt.Sprintf("%s/v0/orgs/acme/tasks/%s", ts.URL, id)

	status, body := doJSON(t, http.MethodPatch, base,
		map[string]any{"status": "completed"}, "mgr-1")
	if status != http.StatusBadRequest {
		t.Fatalf("completed via patch: status %d body %v", status, body)
	}

	status, body = doJSON(t, http.MethodPatch, base,
		map[string]any{"status": "on hold", "priority": "high"}, "mgr-1")
	if status != http.StatusOK {
		t.Fatalf("hold: status %d body %v", status, body)
	}
	if body["status"] != domain.StatusOnHold || body["priority"] != domain.PriorityHigh {
		t.Fatalf("status/priority = %v/%v", body["status"], body["priority"])
	}
}
