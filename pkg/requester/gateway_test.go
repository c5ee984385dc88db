package requester

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
)

type fakeLocal struct {
	mu        sync.Mutex
	records   []Record
	inserted  []Record
	updated   []Record
	listErr   error
	updateErr error
}

func (f *fakeLocal) List(ctx context.Context) ([]Record, error) {
	return f.records, f.listErr
}

func (f *fakeLocal) FindByRemoteID(ctx context.Context, remoteID string) (Record, error) {
	for _, r := range f.records {
		if r.RequesterID == remoteID {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (f *fakeLocal) Insert(ctx context.Context, r Record) error {
	f.mu.Lock()
	f.inserted = append(f.inserted, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeLocal) Update(ctx context.Context, r Record) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	f.updated = append(f.updated, r)
	f.mu.Unlock()
	return nil
}

type fakeSearcher struct {
	results []ExternalResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, term string) ([]ExternalResult, error) {
	return f.results, f.err
}

type fakeRemote struct {
	created   *RemoteRequester
	createErr error
	calls     atomic.Int64
}

func (f *fakeRemote) Create(ctx context.Context, accessToken string, envelope RemoteEnvelope) (*RemoteRequester, error) {
	f.calls.Add(1)
	return f.created, f.createErr
}

func (f *fakeRemote) Update(ctx context.Context, accessToken, requesterID string, envelope RemoteEnvelope) (*RemoteRequester, error) {
	f.calls.Add(1)
	return f.created, f.createErr
}

type fakeTokens struct {
	cred *oauth.Credential
}

func (f *fakeTokens) Current() (*oauth.Credential, error) {
	if f.cred == nil {
		return nil, oauth.ErrTokenAbsent
	}
	return f.cred, nil
}

type capturingRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *capturingRecorder) Record(ctx context.Context, entry audit.Entry) error {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
	return nil
}

func newTestGateway(local *fakeLocal, search *fakeSearcher, remote *fakeRemote,
	tokens *fakeTokens) (*Gateway, *capturingRecorder) {
	recorder := &capturingRecorder{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewGateway(local, search, remote, tokens, recorder, logger), recorder
}

func TestGateway_Search_MergesLocalMatches(t *testing.T) {
	local := &fakeLocal{records: []Record{
		{RequesterID: "216826000002", EmailID: "jane@example.com", Name: "Jane Smith"},
	}}
	search := &fakeSearcher{results: []ExternalResult{
		{ID: 1, EmailID: "jane@example.com"},
		{ID: 2, EmailID: "john@example.com"},
	}}
	gw, recorder := newTestGateway(local, search, &fakeRemote{}, &fakeTokens{})

	results, err := gw.Search(context.Background(), "jsmith", "smith")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "external", results[0].Source)
	require.NotNil(t, results[0].LocalMatch)
	assert.Equal(t, "216826000002", results[0].LocalMatch.RequesterID)
	assert.Nil(t, results[1].LocalMatch)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, audit.ModuleRequester, recorder.entries[0].Module)
	assert.Equal(t, audit.ActionSearch, recorder.entries[0].Action)
	assert.Equal(t, "jsmith", recorder.entries[0].Username)
}

func TestGateway_Search_FailureStillAudited(t *testing.T) {
	search := &fakeSearcher{err: &UpstreamError{Target: "search", Summary: "down"}}
	gw, recorder := newTestGateway(&fakeLocal{}, search, &fakeRemote{}, &fakeTokens{})

	_, err := gw.Search(context.Background(), "jsmith", "smith")
	require.Error(t, err)
	require.Len(t, recorder.entries, 1)
	assert.Equal(t, audit.ActionSearch, recorder.entries[0].Action)
}

func TestGateway_Create_RequiresToken(t *testing.T) {
	remote := &fakeRemote{}
	local := &fakeLocal{}
	gw, recorder := newTestGateway(local, &fakeSearcher{}, remote, &fakeTokens{})

	_, err := gw.Create(context.Background(), "jsmith", Input{EmailID: "jane@example.com"})
	assert.ErrorIs(t, err, oauth.ErrTokenAbsent)

	// Without a credential neither the remote API nor the local store
	// nor the audit trail is touched.
	assert.Zero(t, remote.calls.Load())
	assert.Empty(t, local.inserted)
	assert.Empty(t, recorder.entries)
}

func TestGateway_Create_ConcurrentWithoutToken(t *testing.T) {
	remote := &fakeRemote{}
	local := &fakeLocal{}
	gw, recorder := newTestGateway(local, &fakeSearcher{}, remote, &fakeTokens{})

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = gw.Create(context.Background(), "jsmith", Input{EmailID: "jane@example.com"})
		}(i)
	}
	wg.Wait()

	// Every caller is turned away at the credential gate and no call
	// reaches the remote API, the local store, or the audit trail.
	for _, err := range errs {
		assert.ErrorIs(t, err, oauth.ErrTokenAbsent)
	}
	assert.Zero(t, remote.calls.Load())
	assert.Empty(t, local.inserted)
	assert.Empty(t, recorder.entries)
}

func TestGateway_Create_MirrorsLocally(t *testing.T) {
	remote := &fakeRemote{created: &RemoteRequester{
		ID:      "216826000002",
		Name:    "Jane Smith",
		EmailID: "jane@example.com",
		Phone:   "555-0100",
	}}
	local := &fakeLocal{}
	tokens := &fakeTokens{cred: &oauth.Credential{AccessToken: "tok-1"}}
	gw, recorder := newTestGateway(local, &fakeSearcher{}, remote, tokens)

	created, err := gw.Create(context.Background(), "jsmith", Input{
		FirstName: "Jane", LastName: "Smith", EmailID: "jane@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "216826000002", created.ID)

	require.Len(t, local.inserted, 1)
	assert.Equal(t, "216826000002", local.inserted[0].RequesterID)
	assert.Equal(t, "555-0100", local.inserted[0].PhoneNum)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, audit.ActionCreate, recorder.entries[0].Action)
}

func TestGateway_Create_UpstreamFailureAudited(t *testing.T) {
	remote := &fakeRemote{createErr: &UpstreamError{Target: "ticketing", Status: 422, Summary: "rejected"}}
	local := &fakeLocal{}
	tokens := &fakeTokens{cred: &oauth.Credential{AccessToken: "tok-1"}}
	gw, recorder := newTestGateway(local, &fakeSearcher{}, remote, tokens)

	_, err := gw.Create(context.Background(), "jsmith", Input{EmailID: "jane@example.com"})
	require.Error(t, err)

	assert.Empty(t, local.inserted)
	require.Len(t, recorder.entries, 1)
	assert.Equal(t, audit.ActionCreate, recorder.entries[0].Action)
}

func TestGateway_Update_RequiresToken(t *testing.T) {
	remote := &fakeRemote{}
	gw, _ := newTestGateway(&fakeLocal{}, &fakeSearcher{}, remote, &fakeTokens{})

	_, err := gw.Update(context.Background(), "jsmith", "216826000002", Input{})
	assert.ErrorIs(t, err, oauth.ErrTokenAbsent)
	assert.Zero(t, remote.calls.Load())
}

func TestGateway_Update_RecordsOldValue(t *testing.T) {
	local := &fakeLocal{records: []Record{
		{RequesterID: "216826000002", EmailID: "jane@example.com", JobTitle: "Analyst"},
	}}
	remote := &fakeRemote{created: &RemoteRequester{
		ID:       "216826000002",
		EmailID:  "jane@example.com",
		JobTitle: "Manager",
	}}
	tokens := &fakeTokens{cred: &oauth.Credential{AccessToken: "tok-1"}}
	gw, recorder := newTestGateway(local, &fakeSearcher{}, remote, tokens)

	updated, err := gw.Update(context.Background(), "jsmith", "216826000002", Input{JobTitle: "Manager"})
	require.NoError(t, err)
	assert.Equal(t, "Manager", updated.JobTitle)

	require.Len(t, local.updated, 1)
	require.Len(t, recorder.entries, 1)
	assert.Contains(t, recorder.entries[0].OldValue, "Analyst")
	assert.Contains(t, recorder.entries[0].NewValue, "Manager")
}

func TestGateway_Update_InsertsWhenNotCached(t *testing.T) {
	local := &fakeLocal{updateErr: ErrNotFound}
	remote := &fakeRemote{created: &RemoteRequester{ID: "216826000009", EmailID: "new@example.com"}}
	tokens := &fakeTokens{cred: &oauth.Credential{AccessToken: "tok-1"}}
	gw, _ := newTestGateway(local, &fakeSearcher{}, remote, tokens)

	_, err := gw.Update(context.Background(), "jsmith", "216826000009", Input{})
	require.NoError(t, err)
	require.Len(t, local.inserted, 1)
	assert.Equal(t, "216826000009", local.inserted[0].RequesterID)
}

func TestGateway_Search_LocalListFailure(t *testing.T) {
	local := &fakeLocal{listErr: errors.New("db down")}
	gw, _ := newTestGateway(local, &fakeSearcher{}, &fakeRemote{}, &fakeTokens{})

	_, err := gw.Search(context.Background(), "jsmith", "smith")
	assert.Error(t, err)
}
