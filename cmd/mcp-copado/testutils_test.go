package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testAccessToken = "00Dxx0000000000!token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMockClient returns a mock-mode client over a fresh in-memory fixture.
func newMockClient(t *testing.T) (*CopadoClient, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(DefaultFixture())
	return NewCopadoClient(store, Credentials{}, discardLogger()), store
}

type sobjectCall struct {
	Sobject string
	ID      string
	Payload map[string]interface{}
}

// fakeOrg emulates the query, create and update endpoints of a Salesforce org.
type fakeOrg struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	environments map[string]string
	userStories  string
	promotions   string
	failQuery    bool
	failCreate   bool
	failLinks    map[string]bool
	failUpdate   bool
	delay        time.Duration
	queries      []string
	creates      []sobjectCall
	updates      []sobjectCall
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()
	org := &fakeOrg{
		t:            t,
		environments: map[string]string{"Dev": "a0E000000000001", "UAT": "a0E000000000002"},
		userStories:  `[]`,
		promotions:   `[]`,
		failLinks:    map[string]bool{},
	}
	org.server = httptest.NewServer(http.HandlerFunc(org.handle))
	t.Cleanup(org.server.Close)
	return org
}

// client returns a live client pointed at the fake org.
func (o *fakeOrg) client(store FixtureStore) *CopadoClient {
	return NewCopadoClient(store, Credentials{
		InstanceURL: o.server.URL,
		AccessToken: testAccessToken,
		Timeout:     2 * time.Second,
	}, discardLogger())
}

func (o *fakeOrg) handle(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	delay := o.delay
	o.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	if got := r.Header.Get("Authorization"); got != "Bearer "+testAccessToken {
		writeAPIError(w, http.StatusUnauthorized, "INVALID_SESSION_ID", "Session expired or invalid")
		return
	}

	const prefix = "/services/data/v60.0/"
	path := strings.TrimPrefix(r.URL.Path, prefix)

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && path == "query":
		q := r.URL.Query().Get("q")
		o.queries = append(o.queries, q)
		if o.failQuery {
			writeAPIError(w, http.StatusInternalServerError, "UNKNOWN_EXCEPTION", "query failed")
			return
		}
		var records string
		switch {
		case strings.Contains(q, "FROM copado__Environment__c"):
			var parts []string
			for name, id := range o.environments {
				if strings.Contains(q, "'"+name+"'") {
					parts = append(parts, fmt.Sprintf(`{"Id":%q,"Name":%q}`, id, name))
				}
			}
			records = "[" + strings.Join(parts, ",") + "]"
		case strings.Contains(q, "FROM copado__User_Story__c"):
			records = o.userStories
		case strings.Contains(q, "FROM copado__Promotion__c"):
			records = o.promotions
		default:
			writeAPIError(w, http.StatusBadRequest, "MALFORMED_QUERY", "unexpected query")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"totalSize":0,"done":true,"records":%s}`, records)

	case r.Method == http.MethodPost && strings.HasPrefix(path, "sobjects/"):
		sobject := strings.TrimPrefix(path, "sobjects/")
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeAPIError(w, http.StatusBadRequest, "JSON_PARSER_ERROR", err.Error())
			return
		}
		o.creates = append(o.creates, sobjectCall{Sobject: sobject, Payload: payload})
		if o.failCreate && sobject == sobjectPromotion {
			writeAPIError(w, http.StatusBadRequest, "FIELD_CUSTOM_VALIDATION_EXCEPTION", "cannot create")
			return
		}
		if us, _ := payload[fieldUserStory].(string); sobject == sobjectPromotedUserStory && o.failLinks[us] {
			writeAPIError(w, http.StatusBadRequest, "INVALID_CROSS_REFERENCE_KEY", "invalid user story "+us)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"a0P%012d","success":true,"errors":[]}`, len(o.creates))

	case r.Method == http.MethodPatch && strings.HasPrefix(path, "sobjects/"):
		parts := strings.SplitN(strings.TrimPrefix(path, "sobjects/"), "/", 2)
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		o.updates = append(o.updates, sobjectCall{Sobject: parts[0], ID: parts[len(parts)-1], Payload: payload})
		if o.failUpdate {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `[{"message":%q,"errorCode":%q}]`, message, code)
}

func (o *fakeOrg) set(fn func(o *fakeOrg)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o)
}

func (o *fakeOrg) createCalls() []sobjectCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sobjectCall(nil), o.creates...)
}

func (o *fakeOrg) updateCalls() []sobjectCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sobjectCall(nil), o.updates...)
}

func (o *fakeOrg) queryLog() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.queries...)
}
