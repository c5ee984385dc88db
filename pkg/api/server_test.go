package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/directory"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
	"github.com/deskrelay/deskrelay/pkg/requester"
	"github.com/deskrelay/deskrelay/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeAuthenticator struct {
	err error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, username, password string) error {
	if f.err != nil {
		return f.err
	}
	if username == "jsmith" && password == "secret" {
		return nil
	}
	return directory.ErrInvalidCredentials
}

type fakeLocal struct {
	records []requester.Record
}

func (f *fakeLocal) List(ctx context.Context) ([]requester.Record, error) {
	return f.records, nil
}

func (f *fakeLocal) FindByRemoteID(ctx context.Context, remoteID string) (requester.Record, error) {
	return requester.Record{}, requester.ErrNotFound
}

func (f *fakeLocal) Insert(ctx context.Context, r requester.Record) error { return nil }
func (f *fakeLocal) Update(ctx context.Context, r requester.Record) error { return nil }

type fakeSearcher struct {
	results []requester.ExternalResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, term string) ([]requester.ExternalResult, error) {
	return f.results, f.err
}

type fakeRemote struct {
	result *requester.RemoteRequester
	err    error
}

func (f *fakeRemote) Create(ctx context.Context, accessToken string, envelope requester.RemoteEnvelope) (*requester.RemoteRequester, error) {
	return f.result, f.err
}

func (f *fakeRemote) Update(ctx context.Context, accessToken, requesterID string, envelope requester.RemoteEnvelope) (*requester.RemoteRequester, error) {
	return f.result, f.err
}

type capturingRecorder struct {
	entries []audit.Entry
}

func (c *capturingRecorder) Record(ctx context.Context, entry audit.Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func (c *capturingRecorder) has(action audit.Action) bool {
	return c.find(action) != nil
}

func (c *capturingRecorder) find(action audit.Action) *audit.Entry {
	for i, e := range c.entries {
		if e.Action == action {
			return &c.entries[i]
		}
	}
	return nil
}

type fakeAuditLog struct {
	entries []*audit.Entry
	err     error
}

func (f *fakeAuditLog) Search(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	return f.entries, f.err
}

type testHarness struct {
	server    *Server
	recorder  *capturingRecorder
	sessions  session.Store
	tokens    *oauth.Manager
	tokenSrv  *httptest.Server
	auth      *fakeAuthenticator
	searcher  *fakeSearcher
	remote    *fakeRemote
	auditLog  *fakeAuditLog
	localRecs *fakeLocal
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("code") == "bad-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	tokens, err := oauth.NewManager(oauth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://provider.example/oauth/authorize",
		TokenURL:     tokenSrv.URL,
		RedirectURL:  "https://relay.example/redirect_uri",
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	h := &testHarness{
		recorder:  &capturingRecorder{},
		sessions:  session.NewMemoryStore(time.Hour),
		tokens:    tokens,
		tokenSrv:  tokenSrv,
		auth:      &fakeAuthenticator{},
		searcher:  &fakeSearcher{},
		remote:    &fakeRemote{},
		auditLog:  &fakeAuditLog{},
		localRecs: &fakeLocal{},
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gateway := requester.NewGateway(h.localRecs, h.searcher, h.remote, tokens, h.recorder, logger)

	h.server = NewServer(Options{
		Logger:        logger,
		Authenticator: h.auth,
		Sessions:      h.sessions,
		Pending:       session.NewPendingAuthorizations(session.DefaultPendingTTL),
		Tokens:        tokens,
		Gateway:       gateway,
		Recorder:      h.recorder,
		AuditLog:      h.auditLog,
		Metrics:       metrics,
		FrontendURL:   "https://frontend.example/app",
	})
	return h
}

func (h *testHarness) do(t *testing.T, method, path, body, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

// login runs a successful login and returns the session id and the
// correlation state embedded in the authorization URL.
func (h *testHarness) login(t *testing.T) (string, string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/login", `{"username":"jsmith","password":"secret"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)

	authURL, err := url.Parse(resp.AuthorizationURL)
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)
	return resp.SessionID, state
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)

	sessionID, state := h.login(t)
	assert.True(t, strings.HasPrefix(sessionID, session.TokenPrefix))
	// The correlation state is never the session token itself.
	assert.NotEqual(t, sessionID, state)
	assert.True(t, h.recorder.has(audit.ActionLogin))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/login", `{"username":"jsmith","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, h.recorder.has(audit.ActionLoginFailed))
}

func TestLogin_DirectoryUnavailable(t *testing.T) {
	h := newHarness(t)
	h.auth.err = errors.New("connection refused")

	rec := h.do(t, http.MethodPost, "/login", `{"username":"jsmith","password":"secret"}`, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLogin_MissingFields(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/login", `{"username":"jsmith"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/login", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutes_RequireSession(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/requesters?search=smith", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/requesters?search=smith", "", "drs_unknowntoken")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	rec := h.do(t, http.MethodPost, "/logout", "", sessionID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.recorder.has(audit.ActionLogout))

	// The session is gone afterwards.
	rec = h.do(t, http.MethodGet, "/requesters?search=smith", "", sessionID)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOAuthCallback_Success(t *testing.T) {
	h := newHarness(t)
	_, state := h.login(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://frontend.example/app", rec.Header().Get("Location"))

	// The state round trip attributes the exchange to the technician
	// whose login started it.
	entry := h.recorder.find(audit.ActionTokenExchanged)
	require.NotNil(t, entry)
	assert.Equal(t, "jsmith", entry.Username)

	cred, err := h.tokens.Current()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.AccessToken)
}

func TestOAuthCallback_StateConsumedOnce(t *testing.T) {
	h := newHarness(t)
	_, state := h.login(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	require.Equal(t, http.StatusFound, rec.Code)

	// Replaying the same callback is rejected.
	rec = h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallback_UnknownState(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state=never-issued", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallback_MissingParams(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallback_ExchangeFailure(t *testing.T) {
	h := newHarness(t)
	_, state := h.login(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri?code=bad-code&state="+url.QueryEscape(state), "", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, h.recorder.has(audit.ActionTokenExchangeFailed))

	// A failed exchange invalidates the state as well.
	rec = h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRequesters(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	h.localRecs.records = []requester.Record{
		{RequesterID: "216826000002", EmailID: "jane@example.com"},
	}
	h.searcher.results = []requester.ExternalResult{
		{ID: 1, EmailID: "jane@example.com"},
		{ID: 2, EmailID: "john@example.com"},
	}

	rec := h.do(t, http.MethodGet, "/requesters?search=smith", "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Requesters []requester.EnrichedResult `json:"requesters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Requesters, 2)
	assert.NotNil(t, resp.Requesters[0].LocalMatch)
	assert.Nil(t, resp.Requesters[1].LocalMatch)
}

func TestSearchRequesters_MissingTerm(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	rec := h.do(t, http.MethodGet, "/requesters", "", sessionID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRequesters_UpstreamDown(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)
	h.searcher.err = &requester.UpstreamError{Target: "search", Summary: "down"}

	rec := h.do(t, http.MethodGet, "/requesters?search=smith", "", sessionID)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreateRequester_WithoutProviderToken(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	rec := h.do(t, http.MethodPost, "/requesters",
		`{"first_name":"Jane","email_id":"jane@example.com"}`, sessionID)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRequester_Success(t *testing.T) {
	h := newHarness(t)
	sessionID, state := h.login(t)

	// Complete the authorization leg first.
	rec := h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	require.Equal(t, http.StatusFound, rec.Code)

	h.remote.result = &requester.RemoteRequester{ID: "216826000002", EmailID: "jane@example.com"}
	rec = h.do(t, http.MethodPost, "/requesters",
		`{"first_name":"Jane","last_name":"Smith","email_id":"jane@example.com","gender":"female"}`, sessionID)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, h.recorder.has(audit.ActionCreate))
}

func TestCreateRequester_MissingEmail(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	rec := h.do(t, http.MethodPost, "/requesters", `{"first_name":"Jane"}`, sessionID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRequester(t *testing.T) {
	h := newHarness(t)
	sessionID, state := h.login(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	require.Equal(t, http.StatusFound, rec.Code)

	h.remote.result = &requester.RemoteRequester{ID: "216826000002", JobTitle: "Manager"}
	rec = h.do(t, http.MethodPut, "/requesters/216826000002", `{"job_title":"Manager"}`, sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.recorder.has(audit.ActionUpdate))
}

func TestUpdateRequester_NotFoundUpstream(t *testing.T) {
	h := newHarness(t)
	sessionID, state := h.login(t)

	rec := h.do(t, http.MethodGet, "/redirect_uri?code=good-code&state="+url.QueryEscape(state), "", "")
	require.Equal(t, http.StatusFound, rec.Code)

	h.remote.err = &requester.UpstreamError{Target: "ticketing", Status: http.StatusNotFound, Summary: "missing"}
	rec = h.do(t, http.MethodPut, "/requesters/999", `{"job_title":"Manager"}`, sessionID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditLogs(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	h.auditLog.entries = []*audit.Entry{
		{ID: 1, Username: "jsmith", Module: audit.ModuleAuthentication, Action: audit.ActionLogin},
	}

	rec := h.do(t, http.MethodGet, "/audit_logs?username=jsmith", "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.recorder.has(audit.ActionViewLogs))
}

func TestAuditLogs_BadLimit(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	rec := h.do(t, http.MethodGet, "/audit_logs?limit=abc", "", sessionID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/audit_logs?limit=-5", "", sessionID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditLogs_UnknownModule(t *testing.T) {
	h := newHarness(t)
	sessionID, _ := h.login(t)

	rec := h.do(t, http.MethodGet, "/audit_logs?module=billing", "", sessionID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
