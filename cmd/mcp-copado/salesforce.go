package main

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

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Remote is the REST surface of the org hosting Copado.
type Remote interface {
	Query(ctx context.Context, soql string) ([]gjson.Result, error)
	Create(ctx context.Context, sobject string, payload map[string]interface{}) (string, error)
	Update(ctx context.Context, sobject, id string, payload map[string]interface{}) error
}

const (
	defaultAPIVersion = "v60.0"
	defaultTimeout    = 10 * time.Second

	// Upper bound on query pages followed through nextRecordsUrl.
	maxQueryPages = 50
)

// Credentials select live mode. Both InstanceURL and AccessToken are needed.
type Credentials struct {
	InstanceURL string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration
}

// Complete reports whether both the instance URL and the token are set.
func (c Credentials) Complete() bool {
	return c.InstanceURL != "" && c.AccessToken != ""
}

// SalesforceClient implements Remote over the Salesforce REST API.
type SalesforceClient struct {
	instanceURL string
	baseURL     string
	httpClient  *http.Client
}

// NewSalesforceClient builds a client authenticating with a static bearer token.
func NewSalesforceClient(creds Credentials) *SalesforceClient {
	instance := normalizeInstanceURL(creds.InstanceURL)
	version := creds.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = timeout

	return &SalesforceClient{
		instanceURL: instance,
		baseURL:     instance + "/services/data/" + version,
		httpClient:  httpClient,
	}
}

func normalizeInstanceURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw != "" && !strings.HasPrefix(raw, "http") {
		raw = "https://" + raw
	}
	return raw
}

// Query runs a SOQL query and returns every record, following pagination.
func (c *SalesforceClient) Query(ctx context.Context, soql string) ([]gjson.Result, error) {
	next := c.baseURL + "/query?" + url.Values{"q": {soql}}.Encode()

	var records []gjson.Result
	for page := 0; page < maxQueryPages; page++ {
		body, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, transportError("query", err)
		}
		if !gjson.ValidBytes(body) {
			return nil, transportError("query", fmt.Errorf("malformed query response"))
		}

		res := gjson.ParseBytes(body)
		recs := res.Get("records")
		if !recs.IsArray() {
			return nil, transportError("query", fmt.Errorf("query response has no records array"))
		}
		records = append(records, recs.Array()...)

		nextURL := res.Get("nextRecordsUrl").String()
		if res.Get("done").Bool() || !res.Get("done").Exists() || nextURL == "" {
			return records, nil
		}
		next = c.instanceURL + nextURL
	}
	return nil, transportError("query", fmt.Errorf("query exceeded %d pages", maxQueryPages))
}

// Create inserts an sobject record and returns its id.
func (c *SalesforceClient) Create(ctx context.Context, sobject string, payload map[string]interface{}) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/sobjects/"+sobject, payload)
	if err != nil {
		return "", transportError("create "+sobject, err)
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", transportError("create "+sobject, fmt.Errorf("response carries no id"))
	}
	return id, nil
}

// Update patches fields of an existing sobject record.
func (c *SalesforceClient) Update(ctx context.Context, sobject, id string, payload map[string]interface{}) error {
	_, err := c.do(ctx, http.MethodPatch, c.baseURL+"/sobjects/"+sobject+"/"+url.PathEscape(id), payload)
	if err != nil {
		return transportError("update "+sobject, err)
	}
	return nil
}

func (c *SalesforceClient) do(ctx context.Context, method, target string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s", method, resp.Status, apiErrorMessage(body))
	}
	return body, nil
}

// apiErrorMessage extracts [{"errorCode","message"}] error bodies.
func apiErrorMessage(body []byte) string {
	var parts []string
	gjson.ParseBytes(body).ForEach(func(_, e gjson.Result) bool {
		if msg := e.Get("message").String(); msg != "" {
			if code := e.Get("errorCode").String(); code != "" {
				msg = code + ": " + msg
			}
			parts = append(parts, msg)
		}
		return true
	})
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "empty response"
	}
	return text
}
