package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://open.feishu.cn"

// Token-expiry codes returned inside the response envelope.
const (
	codeTokenInvalid = 99991663
	codeTokenExpired = 99991668
)

// Record is one remote table row.
type Record struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// FieldSpec describes one column when bootstrapping a remote table.
type FieldSpec struct {
	Name     string
	Type     int // 1 text, 2 number, 3 single-option, 11 person
	Property map[string]any
}

// Client talks to the remote table store. One client is scoped to a single
// app token and table id; the tenant access token is cached session state,
// refreshed when the store signals expiry.
type Client struct {
	appID     string
	appSecret string

	AppToken string
	TableID  string

	BaseURL string
	HTTPC   *http.Client

	token string
}

func NewClient(appID, appSecret, appToken, tableID string) *Client {
	return &Client{
		appID:     strings.TrimSpace(appID),
		appSecret: strings.TrimSpace(appSecret),
		AppToken:  appToken,
		TableID:   tableID,
		BaseURL:   defaultBaseURL,
		HTTPC:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Verify fetches a tenant token up front so missing credentials abort before
// batch work starts.
func (c *Client) Verify(ctx context.Context) error {
	if c.appID == "" || c.appSecret == "" {
		return fmt.Errorf("bitable: app id and app secret are required")
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPC.Do(req)
	if err != nil {
		return fmt.Errorf("bitable: fetch token: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("bitable: decode token response: %w", err)
	}
	if body.Code != 0 || body.TenantAccessToken == "" {
		return fmt.Errorf("bitable: credentials rejected: code %d: %s", body.Code, body.Msg)
	}
	c.token = body.TenantAccessToken
	return nil
}

// call posts (or gets) a JSON API and decodes the data envelope into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if c.token == "" {
		if err := c.refreshToken(ctx); err != nil {
			return err
		}
	}
	code, err := c.doCall(ctx, method, path, in, out)
	if err != nil {
		return err
	}
	if code == codeTokenInvalid || code == codeTokenExpired {
		if err := c.refreshToken(ctx); err != nil {
			return err
		}
		code, err = c.doCall(ctx, method, path, in, out)
		if err != nil {
			return err
		}
	}
	if code != 0 {
		return fmt.Errorf("bitable: %s %s: store error %d", method, path, code)
	}
	return nil
}

func (c *Client) doCall(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPC.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bitable: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("bitable: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, fmt.Errorf("bitable: decode %s response: %w", path, err)
	}
	if envelope.Code != 0 {
		return envelope.Code, nil
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return 0, fmt.Errorf("bitable: decode %s data: %w", path, err)
		}
	}
	return 0, nil
}

// SearchRecords fetches one page of the table's records.
func (c *Client) SearchRecords(ctx context.Context, pageToken string) (records []Record, nextPageToken string, hasMore bool, err error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/search?page_size=100", c.AppToken, c.TableID)
	if pageToken != "" {
		path += "&page_token=" + url.QueryEscape(pageToken)
	}
	var data struct {
		Items     []Record `json:"items"`
		PageToken string   `json:"page_token"`
		HasMore   bool     `json:"has_more"`
	}
	if err := c.call(ctx, http.MethodPost, path, map[string]any{}, &data); err != nil {
		return nil, "", false, err
	}
	return data.Items, data.PageToken, data.HasMore, nil
}

// BatchCreateRecords inserts one batch of records. Callers chunk to the
// store's 1000-record ceiling.
func (c *Client) BatchCreateRecords(ctx context.Context, fields []map[string]any) error {
	records := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		records = append(records, map[string]any{"fields": f})
	}
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/batch_create?ignore_consistency_check=true", c.AppToken, c.TableID)
	return c.call(ctx, http.MethodPost, path, map[string]any{"records": records}, nil)
}

// BatchUpdateRecords applies one batch of field updates to known record ids.
func (c *Client) BatchUpdateRecords(ctx context.Context, updates []Record) error {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/batch_update", c.AppToken, c.TableID)
	return c.call(ctx, http.MethodPost, path, map[string]any{"records": updates}, nil)
}

// TableRevision scans the app's table listing until the client's table id
// appears and returns its revision counter. The store exposes no direct
// lookup by id.
func (c *Client) TableRevision(ctx context.Context) (int64, error) {
	pageToken := ""
	for {
		path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables?page_size=100", c.AppToken)
		if pageToken != "" {
			path += "&page_token=" + url.QueryEscape(pageToken)
		}
		var data struct {
			Items []struct {
				TableID  string `json:"table_id"`
				Revision int64  `json:"revision"`
			} `json:"items"`
			PageToken string `json:"page_token"`
			HasMore   bool   `json:"has_more"`
		}
		if err := c.call(ctx, http.MethodGet, path, nil, &data); err != nil {
			return 0, err
		}
		for _, t := range data.Items {
			if t.TableID == c.TableID {
				return t.Revision, nil
			}
		}
		if !data.HasMore {
			return 0, fmt.Errorf("bitable: table %s not found in app %s", c.TableID, c.AppToken)
		}
		pageToken = data.PageToken
	}
}

// CreateTable bootstraps a new table in the app and returns its id.
func (c *Client) CreateTable(ctx context.Context, name, defaultView string, fields []FieldSpec) (string, error) {
	specs := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		spec := map[string]any{"field_name": f.Name, "type": f.Type}
		if f.Property != nil {
			spec["property"] = f.Property
		}
		specs = append(specs, spec)
	}
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables", c.AppToken)
	var data struct {
		TableID string `json:"table_id"`
	}
	err := c.call(ctx, http.MethodPost, path, map[string]any{
		"table": map[string]any{
			"name":              name,
			"default_view_name": defaultView,
			"fields":            specs,
		},
	}, &data)
	if err != nil {
		return "", err
	}
	return data.TableID, nil
}

// DownloadMedia fetches the raw bytes of an attached file.
func (c *Client) DownloadMedia(ctx context.Context, fileToken string) ([]byte, error) {
	if c.token == "" {
		if err := c.refreshToken(ctx); err != nil {
			return nil, err
		}
	}
	path := fmt.Sprintf("/open-apis/drive/v1/medias/%s/download", url.PathEscape(fileToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.HTTPC.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitable: download %s: %w", fileToken, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitable: download %s: status %d", fileToken, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// TmpDownloadURL returns a short-lived browser link for an attached file,
// used in failure logs so a human can inspect the original.
func (c *Client) TmpDownloadURL(ctx context.Context, fileToken string) (string, error) {
	path := "/open-apis/drive/v1/medias/batch_get_tmp_download_url?file_tokens=" + url.QueryEscape(fileToken)
	var data struct {
		TmpDownloadURLs []struct {
			FileToken      string `json:"file_token"`
			TmpDownloadURL string `json:"tmp_download_url"`
		} `json:"tmp_download_urls"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return "", err
	}
	if len(data.TmpDownloadURLs) == 0 {
		return "", fmt.Errorf("bitable: no download url for %s", fileToken)
	}
	return data.TmpDownloadURLs[0].TmpDownloadURL, nil
}
