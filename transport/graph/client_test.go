package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
)

func TestFetchPage(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/auditLogs/signIns", r.URL.Path)
		assert.Equal(t, "createdDateTime ge 2024-01-01T00:00:00.000Z", r.URL.Query().Get("$filter"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"value":[{"id":"a"},{"id":"b"}],"@odata.nextLink":"%s/v1.0/auditLogs/signIns?$skiptoken=x"}`, srv.URL)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1.0/", WithLogger(logging.Discard()))
	page, err := c.Fetch(context.Background(),
		"/auditLogs/signIns?$filter=createdDateTime%20ge%202024-01-01T00%3A00%3A00.000Z")
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.JSONEq(t, `{"id":"a"}`, string(page.Records[0]))
	assert.Equal(t, srv.URL+"/v1.0/auditLogs/signIns?$skiptoken=x", page.Next)
}

func TestFetchFollowsAbsoluteLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "x", r.URL.Query().Get("$skiptoken"))
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c := New("https://unused.invalid/v1.0", WithLogger(logging.Discard()))
	page, err := c.Fetch(context.Background(), srv.URL+"/users?$skiptoken=x")
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasNext())
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		header        map[string]string
		wantRetryable bool
		wantMsg       string
	}{
		{
			name:    "forbidden",
			status:  http.StatusForbidden,
			body:    `{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges","innerError":{"request-id":"r-1"}}}`,
			wantMsg: "Authorization_RequestDenied: Insufficient privileges",
		},
		{
			name:          "throttled",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"code":"TooManyRequests","message":"slow down"}}`,
			header:        map[string]string{"Retry-After": "7"},
			wantRetryable: true,
			wantMsg:       "TooManyRequests",
		},
		{
			name:          "server error with plain body",
			status:        http.StatusBadGateway,
			body:          "upstream unavailable",
			wantRetryable: true,
			wantMsg:       "upstream unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, WithLogger(logging.Discard())).Fetch(context.Background(), "/users")
			require.Error(t, err)
			assert.True(t, syncErrors.IsFetchError(err))
			assert.Equal(t, tt.wantRetryable, syncErrors.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.wantMsg)

			var se *syncErrors.SyncError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Metadata["status"])
		})
	}
}

func TestFetchResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"value":[{"blob":%q}]}`, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxResponseSize(1024), WithLogger(logging.Discard()))
	_, err := c.Fetch(context.Background(), "/users")
	require.Error(t, err)
	assert.True(t, syncErrors.IsFetchError(err))
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithLogger(logging.Discard())).Fetch(context.Background(), "/users")
	require.Error(t, err)
	assert.False(t, syncErrors.IsRetryable(err))
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, WithLogger(logging.Discard())).Fetch(context.Background(), "/users")
	require.Error(t, err)
	assert.True(t, syncErrors.IsFetchError(err))
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestCredentialsTokenURL(t *testing.T) {
	c := Credentials{TenantID: "contoso"}
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", c.TokenURL())

	c.AuthorityURL = "http://127.0.0.1:9999/"
	assert.Equal(t, "http://127.0.0.1:9999/contoso/oauth2/v2.0/token", c.TokenURL())
}

func TestNewWithCredentials(t *testing.T) {
	var tokenRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "app-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1.0/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"value":[{"id":"u1"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewWithCredentials(context.Background(), Credentials{
		TenantID:     "tenant-1",
		ClientID:     "app-1",
		ClientSecret: "s3cret",
		AuthorityURL: srv.URL,
	}, srv.URL+"/v1.0", srv.Client(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		page, err := c.Fetch(context.Background(), "/users")
		require.NoError(t, err)
		assert.Len(t, page.Records, 1)
	}
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is cached")
}

func TestTokenFailureIsNotRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client","error_description":"bad secret"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewWithCredentials(context.Background(), Credentials{
		TenantID: "tenant-1", ClientID: "app-1", ClientSecret: "wrong", AuthorityURL: srv.URL,
	}, srv.URL+"/v1.0", srv.Client(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "/users")
	require.Error(t, err)
	assert.True(t, syncErrors.IsFetchError(err))
	assert.False(t, syncErrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "token request failed")
}

func TestNewWithCredentialsValidates(t *testing.T) {
	_, err := NewWithCredentials(context.Background(), Credentials{TenantID: "t"}, "", nil)
	require.Error(t, err)
	assert.True(t, syncErrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "client id is required")
}
