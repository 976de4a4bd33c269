package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Extractor is the recognition surface consumed by the intake service.
type Extractor interface {
	RecognizeVAT(ctx context.Context, kind FileKind, data []byte) ([]Page, error)
	RecognizeMulti(ctx context.Context, kind FileKind, data []byte) (Document, error)
}

const (
	defaultAuthURL = "https://aip.baidubce.com/oauth/2.0/token"
	defaultBaseURL = "https://aip.baidubce.com/rest/2.0/ocr/v1"
)

// Baidu token-expiry error codes.
const (
	codeTokenInvalid = 110
	codeTokenExpired = 111
)

// Client talks to the Baidu OCR endpoints. The access token is session state
// owned by the client: fetched lazily, refreshed once when the vendor signals
// an authentication error.
type Client struct {
	apiKey    string
	secretKey string

	AuthURL string
	BaseURL string
	HTTPC   *http.Client

	token string
}

func NewClient(apiKey, secretKey string) *Client {
	return &Client{
		apiKey:    strings.TrimSpace(apiKey),
		secretKey: strings.TrimSpace(secretKey),
		AuthURL:   defaultAuthURL,
		BaseURL:   defaultBaseURL,
		HTTPC:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Verify fetches an access token up front. Callers run this before any batch
// work so bad credentials abort the whole run.
func (c *Client) Verify(ctx context.Context) error {
	if c.apiKey == "" || c.secretKey == "" {
		return fmt.Errorf("ocr: api key and secret key are required")
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.apiKey)
	form.Set("client_secret", c.secretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthURL+"?"+form.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPC.Do(req)
	if err != nil {
		return fmt.Errorf("ocr: fetch token: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("ocr: decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("ocr: credentials rejected by token endpoint")
	}
	c.token = body.AccessToken
	return nil
}

// RecognizeVAT runs the dedicated VAT invoice endpoint. Multi-page PDFs are
// fetched one page per call; the vendor's total-page-count hint stops paging.
func (c *Client) RecognizeVAT(ctx context.Context, kind FileKind, data []byte) ([]Page, error) {
	raws, err := c.recognize(ctx, "/vat_invoice", kind, data)
	if err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(raws))
	for _, raw := range raws {
		pages = append(pages, decodePage(raw))
	}
	return pages, nil
}

// RecognizeMulti runs the multi-invoice endpoint, which classifies the
// document before extraction. Classified VAT results reuse the VAT page
// shape; train tickets decode to their flat field set.
func (c *Client) RecognizeMulti(ctx context.Context, kind FileKind, data []byte) (Document, error) {
	raws, err := c.recognize(ctx, "/multiple_invoice", kind, data)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	for _, raw := range raws {
		var entries []struct {
			Type   string          `json:"type"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
			return Document{}, fmt.Errorf("ocr: malformed multi-invoice result")
		}
		doc.Kind = DocumentKind(entries[0].Type)
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entries[0].Result, &fields); err != nil {
			return Document{}, fmt.Errorf("ocr: malformed multi-invoice fields: %w", err)
		}
		switch doc.Kind {
		case KindVATInvoice:
			doc.Pages = append(doc.Pages, decodeFields(fields))
		case KindTrainTicket:
			doc.Train = decodeTrainTicket(fields)
		default:
			return Document{}, fmt.Errorf("ocr: unknown invoice type %q", entries[0].Type)
		}
	}
	return doc, nil
}

// recognize posts the payload, paging through PDF pages, and returns the raw
// words_result of each page in fetch order.
func (c *Client) recognize(ctx context.Context, endpoint string, kind FileKind, data []byte) ([]json.RawMessage, error) {
	encoded := base64.StdEncoding.EncodeToString(data)

	switch kind {
	case FileImage:
		page, _, err := c.post(ctx, endpoint, url.Values{
			"image":    {encoded},
			"seal_tag": {"false"},
		})
		if err != nil {
			return nil, err
		}
		return []json.RawMessage{page}, nil
	case FilePDF:
		var raws []json.RawMessage
		total := 1
		for pageNum := 1; pageNum <= total; pageNum++ {
			page, size, err := c.post(ctx, endpoint, url.Values{
				"pdf_file":     {encoded},
				"pdf_file_num": {strconv.Itoa(pageNum)},
				"seal_tag":     {"false"},
			})
			if err != nil {
				return nil, err
			}
			if size > total {
				total = size
			}
			raws = append(raws, page)
		}
		return raws, nil
	default:
		return nil, fmt.Errorf("ocr: unsupported file kind %q", kind)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (json.RawMessage, int, error) {
	if c.token == "" {
		if err := c.refreshToken(ctx); err != nil {
			return nil, 0, err
		}
	}
	result, size, code, err := c.doPost(ctx, endpoint, form)
	if err != nil {
		return nil, 0, err
	}
	if code == codeTokenInvalid || code == codeTokenExpired {
		if err := c.refreshToken(ctx); err != nil {
			return nil, 0, err
		}
		result, size, code, err = c.doPost(ctx, endpoint, form)
		if err != nil {
			return nil, 0, err
		}
	}
	if code != 0 {
		return nil, 0, fmt.Errorf("ocr: vendor error %d", code)
	}
	return result, size, nil
}

func (c *Client) doPost(ctx context.Context, endpoint string, form url.Values) (json.RawMessage, int, int, error) {
	reqURL := fmt.Sprintf("%s%s?access_token=%s", c.BaseURL, endpoint, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPC.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("ocr: post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, 0, fmt.Errorf("ocr: post %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body struct {
		WordsResult json.RawMessage `json:"words_result"`
		PDFFileSize json.RawMessage `json:"pdf_file_size"`
		ErrorCode   int             `json:"error_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, 0, 0, fmt.Errorf("ocr: decode %s response: %w", endpoint, err)
	}
	return body.WordsResult, atoiLoose(body.PDFFileSize), body.ErrorCode, nil
}

// atoiLoose parses an integer the vendor serializes as either a number or a
// quoted string.
func atoiLoose(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
