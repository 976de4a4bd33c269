package bitable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("app_id", "app_secret", "appTok", "tblX")
	c.BaseURL = srv.URL
	return c
}

func tokenHandler(calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-abc"}`))
	}
}

func TestParseTableURL(t *testing.T) {
	t.Parallel()

	appToken, tableID, err := ParseTableURL("https://example.feishu.cn/base/AppTok123?table=tblabc&view=vewxyz")
	require.NoError(t, err)
	require.Equal(t, "AppTok123", appToken)
	require.Equal(t, "tblabc", tableID)

	_, _, err = ParseTableURL("https://example.feishu.cn/base/AppTok123")
	require.Error(t, err)

	_, _, err = ParseTableURL("://not a url")
	require.Error(t, err)
}

func TestVerifyRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":10003,"msg":"invalid app_secret"}`))
	}))
	require.Error(t, c.Verify(ctx))

	empty := NewClient("", "", "appTok", "tblX")
	require.Error(t, empty.Verify(ctx))
}

func TestSearchRecordsPages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", tokenHandler(nil))
	mux.HandleFunc("/open-apis/bitable/v1/apps/appTok/tables/tblX/records/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer t-abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_token") == "" {
			fmt.Fprint(w, `{"code":0,"data":{"items":[{"record_id":"rec1","fields":{"file_token":"a"}}],"page_token":"p2","has_more":true}}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"items":[{"record_id":"rec2","fields":{"file_token":"b"}}],"has_more":false}}`)
	})

	c := testClient(t, mux)

	records, next, hasMore, err := c.SearchRecords(ctx, "")
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Equal(t, "p2", next)
	require.Len(t, records, 1)
	require.Equal(t, "rec1", records[0].RecordID)

	records, _, hasMore, err = c.SearchRecords(ctx, next)
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Equal(t, "b", Text(records[0].Fields, "file_token"))
}

func TestCallRetriesOnceOnExpiredToken(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var tokenCalls atomic.Int64
	var searchCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", tokenHandler(&tokenCalls))
	mux.HandleFunc("/open-apis/bitable/v1/apps/appTok/tables/tblX/records/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if searchCalls.Add(1) == 1 {
			fmt.Fprint(w, `{"code":99991668,"msg":"token expired"}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"items":[],"has_more":false}}`)
	})

	c := testClient(t, mux)
	_, _, _, err := c.SearchRecords(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, tokenCalls.Load())
	require.EqualValues(t, 2, searchCalls.Load())
}

func TestTableRevisionScansListing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", tokenHandler(nil))
	mux.HandleFunc("/open-apis/bitable/v1/apps/appTok/tables", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_token") == "" {
			fmt.Fprint(w, `{"code":0,"data":{"items":[{"table_id":"tblOther","revision":4}],"page_token":"p2","has_more":true}}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"items":[{"table_id":"tblX","revision":12}],"has_more":false}}`)
	})

	c := testClient(t, mux)
	rev, err := c.TableRevision(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 12, rev)

	// A table id absent from the listing is an error, never revision zero.
	c.TableID = "tblMissing"
	_, err = c.TableRevision(ctx)
	require.Error(t, err)
}

func TestBatchCreateWrapsFields(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", tokenHandler(nil))
	var got struct {
		Records []map[string]any `json:"records"`
	}
	mux.HandleFunc("/open-apis/bitable/v1/apps/appTok/tables/tblX/records/batch_create", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"code":0,"data":{}}`)
	})

	c := testClient(t, mux)
	err := c.BatchCreateRecords(ctx, []map[string]any{
		{"file_token": "a", "status": "0"},
	})
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	fields, ok := got.Records[0]["fields"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "a", fields["file_token"])
}
