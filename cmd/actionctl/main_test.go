package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path   string
	userID string
	body   map[string]any
}

func fakeAPI(t *testing.T, status int, reply any) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.RequestURI()
		got.userID = r.Header.Get("X-User-ID")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func runCLI(srv *httptest.Server, userID string, args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	env := map[string]string{"VENUESYNC_API_URL": srv.URL + "/", "VENUESYNC_USER_ID": userID}
	code := run(args, &out, &errOut, func(k string) string { return env[k] })
	return code, out.String(), errOut.String()
}

func TestCreate(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusCreated, map[string]any{
		"success":       true,
		"action":        map[string]any{"id": "a-1", "status": "pending"},
		"confirmation":  map[string]any{"id": "c-1", "requiresApproval": true, "estimatedImpact": map[string]any{"riskLevel": "high"}},
		"autoConfirmed": false,
	})

	code, out, _ := runCLI(srv, "u-7", "create", "--venue", "v1", "--service", "pos",
		"--type", "update_item_price", "--params", `{"itemGuid":"i1","newPrice":20}`)
	require.Equal(t, 0, code)

	assert.Equal(t, "/api/actions/create", got.path)
	assert.Equal(t, "u-7", got.userID)
	action := got.body["action"].(map[string]any)
	assert.Equal(t, "user", action["createdBy"])
	assert.Equal(t, "medium", action["priority"])
	assert.Equal(t, 20.0, action["parameters"].(map[string]any)["newPrice"])

	assert.Contains(t, out, "action=a-1 status=pending")
	assert.Contains(t, out, "risk=high approval=true")
}

func TestCreate_RequiresFlags(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusOK, map[string]any{})
	code, _, errOut := runCLI(srv, "", "create", "--venue", "v1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--venue, --service and --type are required")

	code, _, errOut = runCLI(srv, "", "create", "--venue", "v1", "--service", "pos", "--type", "x", "--params", "[1]")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not a JSON object")
}

func TestReject_SendsDecision(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, map[string]any{"success": true, "message": "Action rejected successfully"})

	code, out, _ := runCLI(srv, "manager-1", "reject", "--id", "c-9", "--reason", "too steep")
	require.Equal(t, 0, code)
	assert.Equal(t, "reject", got.body["action"])
	assert.Equal(t, "manager-1", got.body["userId"])
	assert.Equal(t, "too steep", got.body["reason"])
	assert.Equal(t, "Action rejected successfully\n", out)

	code, _, errOut := runCLI(srv, "", "confirm", "--id", "c-9")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "VENUESYNC_USER_ID")
}

func TestExecute_ReportsAPIError(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusBadRequest, map[string]any{"success": false, "error": "Action must be confirmed before execution"})

	code, _, errOut := runCLI(srv, "u1", "execute", "--action", "a-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Action must be confirmed before execution (HTTP 400)")
}

func TestPending_Table(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, map[string]any{
		"success": true,
		"pending": []any{map[string]any{
			"id":              "c-1",
			"action":          map[string]any{"service": "pos", "actionType": "update_item_price"},
			"estimatedImpact": map[string]any{"riskLevel": "high"},
			"expiresAt":       "2026-05-04T18:45:00Z",
		}},
		"summary": map[string]any{"pendingCount": 1, "requiresApproval": 1, "expiringSoon": 0},
	})

	code, out, _ := runCLI(srv, "", "pending", "--venue", "venue 1")
	require.Equal(t, 0, code)
	assert.Equal(t, "/api/actions/pending?venueId=venue+1", got.path)
	assert.Contains(t, out, "update_item_price")
	assert.Contains(t, out, "1 pending, 1 need approval, 0 expiring soon")
}

func TestUnknownCommand(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusOK, map[string]any{})
	code, _, errOut := runCLI(srv, "", "launch")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: launch")

	code, out, _ := runCLI(srv, "", "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "actionctl v1.0.0\n", out)
}
