package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/dirsync/internal/config"
)

// fakeTenant serves the token endpoint and the three Graph collections.
type fakeTenant struct {
	token *httptest.Server
	graph *httptest.Server

	mu         sync.Mutex
	filters    map[string][]string
	failAudits bool
	denyToken  bool
}

func newFakeTenant(t *testing.T, configure ...func(*fakeTenant)) *fakeTenant {
	t.Helper()
	ft := &fakeTenant{filters: make(map[string][]string)}
	for _, fn := range configure {
		fn(ft)
	}

	ft.token = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deny := ft.denyToken
		w.Header().Set("Content-Type", "application/json")
		if deny {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(ft.token.Close)

	ft.graph = httptest.NewServer(http.HandlerFunc(ft.serveGraph))
	t.Cleanup(ft.graph.Close)
	return ft
}

func (ft *fakeTenant) serveGraph(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ft.mu.Lock()
	ft.filters[r.URL.Path] = append(ft.filters[r.URL.Path], r.URL.Query().Get("$filter"))
	ft.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1.0/users":
		if r.URL.Query().Get("$skiptoken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []any{map[string]any{
					"id": "u1", "displayName": "Ada Lovelace", "mail": "ada@contoso.com",
					"businessPhones": []string{}, "accountEnabled": true, "userType": "Member",
				}},
				"@odata.nextLink": ft.graph.URL + "/v1.0/users?$skiptoken=p2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []any{map[string]any{
				"id": "u2", "displayName": "Alan Turing", "mail": nil,
				"businessPhones": []string{"+44 20 7946 0000"}, "accountEnabled": false, "userType": "Guest",
			}},
		})
	case "/v1.0/auditLogs/signIns":
		_, _ = w.Write([]byte(`{"value":[
			{"id":"s2","createdDateTime":"2024-05-02T10:00:00Z","userPrincipalName":"ada@contoso.com","status":{"errorCode":0}},
			{"id":"s1","createdDateTime":"2024-05-01T09:30:00Z","userPrincipalName":"alan@contoso.com","status":{"errorCode":50126,"failureReason":"Invalid username or password"}}
		]}`))
	case "/v1.0/auditLogs/directoryAudits":
		if ft.failAudits {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"UnknownError","message":"try later"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"value":[
			{"id":"a1","activityDateTime":"2024-05-02T11:00:00Z","activityDisplayName":"Update user","result":"success"}
		]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (ft *fakeTenant) filtersFor(path string) []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]string(nil), ft.filters[path]...)
}

func (ft *fakeTenant) env(storageURI string) map[string]string {
	return map[string]string{
		config.EnvTenantID:        "contoso",
		config.EnvClientID:        "client",
		config.EnvClientSecret:    "secret",
		config.EnvBaseURL:         ft.graph.URL + "/v1.0",
		config.EnvAuthorityURL:    ft.token.URL,
		config.EnvUsersPageDelay:  "0s",
		config.EnvStorageURI:      storageURI,
		config.EnvStorageDatabase: "directory",
	}
}

func lookupOf(env map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func execute(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := executeWithLog(t, env, args...)
	return stdout, err
}

// executeWithLog also returns what the command logged.
func executeWithLog(t *testing.T, env map[string]string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Lookup: lookupOf(env)})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

type runResponse struct {
	Status string     `json:"status"`
	Data   RunSummary `json:"data"`
}

func decodeRun(t *testing.T, out string) map[string]StreamSummary {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Data.RunID)

	byStream := make(map[string]StreamSummary)
	for _, s := range resp.Data.Streams {
		byStream[s.Stream] = s
	}
	require.Len(t, byStream, 3)
	return byStream
}

func TestRunEndToEnd(t *testing.T) {
	ft := newFakeTenant(t)
	env := ft.env("sqlite://" + filepath.Join(t.TempDir(), "dirsync.db"))

	out, err := execute(t, env, "run", "--format", "json")
	require.NoError(t, err)
	first := decodeRun(t, out)

	users := first["users"]
	assert.Equal(t, "done", users.State)
	assert.Equal(t, "diff-upsert", users.Policy)
	assert.Equal(t, 2, users.Pages)
	assert.Equal(t, 2, users.Fetched)
	assert.Equal(t, 2, users.New)
	assert.Zero(t, users.StoredBefore)
	assert.Empty(t, users.Watermark)

	signins := first["sign_in_logs"]
	assert.Equal(t, "done", signins.State)
	assert.Equal(t, 2, signins.Inserted)
	assert.Equal(t, "2024-05-02T10:00:00Z", signins.Watermark)
	assert.Empty(t, signins.Resumed)

	audits := first["audit_logs"]
	assert.Equal(t, "done", audits.State)
	assert.Equal(t, 1, audits.Inserted)
	assert.Equal(t, "2024-05-02T11:00:00Z", audits.Watermark)

	out, err = execute(t, env, "run", "--format", "json")
	require.NoError(t, err)
	second := decodeRun(t, out)

	assert.Equal(t, 2, second["users"].Unchanged)
	assert.Zero(t, second["users"].New)
	assert.Zero(t, second["users"].Modified)
	assert.Equal(t, int64(2), second["users"].StoredBefore)

	assert.Equal(t, 2, second["sign_in_logs"].Duplicates)
	assert.Zero(t, second["sign_in_logs"].Inserted)
	assert.Equal(t, "2024-05-02T10:00:00Z", second["sign_in_logs"].Resumed)
	assert.Equal(t, 1, second["audit_logs"].Duplicates)

	assert.Equal(t, []string{"", "createdDateTime ge 2024-05-02T10:00:00.000Z"},
		ft.filtersFor("/v1.0/auditLogs/signIns"))
	assert.Equal(t, []string{"", "activityDateTime ge 2024-05-02T11:00:00.000Z"},
		ft.filtersFor("/v1.0/auditLogs/directoryAudits"))
	for _, f := range ft.filtersFor("/v1.0/users") {
		assert.Empty(t, f)
	}

	out, err = execute(t, env, "status", "--format", "json")
	require.NoError(t, err)

	var status struct {
		Status string         `json:"status"`
		Data   []StreamStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Len(t, status.Data, 3)
	assert.Equal(t, StreamStatus{Stream: "users", Collection: "users", Documents: 2}, status.Data[0])
	assert.Equal(t, "signin_logs", status.Data[1].Collection)
	assert.Equal(t, int64(2), status.Data[1].Documents)
	assert.Equal(t, "2024-05-02T10:00:00Z", status.Data[1].Watermark)
	assert.Equal(t, "s2", status.Data[1].LastID)
	assert.NotNil(t, status.Data[1].UpdatedAt)
	assert.Equal(t, "a1", status.Data[2].LastID)
}

func TestRunStreamFailureExitsZero(t *testing.T) {
	ft := newFakeTenant(t, func(ft *fakeTenant) { ft.failAudits = true })

	out, err := execute(t, ft.env("memory://"), "run", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))

	streams := decodeRun(t, out)
	assert.Equal(t, "done", streams["users"].State)
	assert.Equal(t, "done", streams["sign_in_logs"].State)

	audits := streams["audit_logs"]
	assert.Equal(t, "failed", audits.State)
	assert.Equal(t, "FETCH_FAILURE", audits.ErrorCode)
	assert.Contains(t, audits.Error, "UnknownError")
	assert.Empty(t, audits.Watermark)
}

func TestRunTokenFailureFailsEveryStream(t *testing.T) {
	ft := newFakeTenant(t, func(ft *fakeTenant) { ft.denyToken = true })

	out, err := execute(t, ft.env("memory://"), "run", "--format", "json")
	require.NoError(t, err)

	for name, s := range decodeRun(t, out) {
		assert.Equal(t, "failed", s.State, name)
		assert.Equal(t, "FETCH_FAILURE", s.ErrorCode, name)
	}
}

func TestRunTextSummary(t *testing.T) {
	ft := newFakeTenant(t)

	out, err := execute(t, ft.env("memory://"), "run", "--stream", "users", "--stream", "audit_logs")
	require.NoError(t, err)

	assert.Contains(t, out, "users")
	assert.Contains(t, out, "new=2 modified=0 unchanged=0")
	assert.Contains(t, out, "audit_logs")
	assert.Contains(t, out, "inserted=1 duplicates=0")
	assert.Contains(t, out, "watermark=2024-05-02T11:00:00Z")
	assert.NotContains(t, out, "sign_in_logs")
	assert.Contains(t, out, "0 of 2 streams failed")
	assert.Empty(t, ft.filtersFor("/v1.0/auditLogs/signIns"))
}

func TestRunPreconditionFailures(t *testing.T) {
	ft := newFakeTenant(t)

	tests := []struct {
		name    string
		env     func() map[string]string
		args    []string
		wantErr string
	}{
		{
			name: "missing credentials",
			env: func() map[string]string {
				env := ft.env("memory://")
				delete(env, config.EnvClientSecret)
				return env
			},
			args:    []string{"run"},
			wantErr: "invalid configuration",
		},
		{
			name: "unusable storage",
			env: func() map[string]string {
				return ft.env(filepath.Join(t.TempDir(), "no", "such", "dir", "dirsync.db"))
			},
			args:    []string{"run"},
			wantErr: "failed to open storage",
		},
		{
			name:    "unknown stream",
			env:     func() map[string]string { return ft.env("memory://") },
			args:    []string{"run", "--stream", "groups"},
			wantErr: "invalid stream selection",
		},
		{
			name:    "invalid format",
			env:     func() map[string]string { return ft.env("memory://") },
			args:    []string{"run", "--format", "yaml"},
			wantErr: "invalid format",
		},
		{
			name:    "status without storage",
			env:     func() map[string]string { return map[string]string{} },
			args:    []string{"status"},
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.env(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Empty(t, ft.filtersFor("/v1.0/users"))
}

func TestRunConfigErrorOutput(t *testing.T) {
	out, err := execute(t, map[string]string{}, "run")
	require.Error(t, err)
	assert.Contains(t, out, "Error [CONFIG_FAILURE]")
	assert.Contains(t, out, "graph.tenant_id")
}

func TestStatusText(t *testing.T) {
	out, err := execute(t, map[string]string{
		config.EnvStorageURI:      "memory://",
		config.EnvStorageDatabase: "directory",
	}, "status")
	require.NoError(t, err)

	assert.Contains(t, out, "STREAM")
	assert.Contains(t, out, "sign_in_logs")
	assert.Contains(t, out, "audit_logs")
}

func TestStatusLogsStorageOpen(t *testing.T) {
	_, logs, err := executeWithLog(t, map[string]string{
		config.EnvStorageURI:      "memory://",
		config.EnvStorageDatabase: "directory",
	}, "status", "--verbose")
	require.NoError(t, err)

	assert.Contains(t, logs, "operation completed")
	assert.Contains(t, logs, "operation=open_storage")
	assert.Contains(t, logs, "component=storage")
}
