package requester

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
)

// TokenProvider hands out the current ticketing API credential.
// Satisfied by oauth.Manager.
type TokenProvider interface {
	Current() (*oauth.Credential, error)
}

// LocalCache is the slice of the local store the gateway needs.
// Satisfied by LocalStore.
type LocalCache interface {
	List(ctx context.Context) ([]Record, error)
	FindByRemoteID(ctx context.Context, remoteID string) (Record, error)
	Insert(ctx context.Context, r Record) error
	Update(ctx context.Context, r Record) error
}

// Searcher queries the external search provider. Satisfied by SearchClient.
type Searcher interface {
	Search(ctx context.Context, term string) ([]ExternalResult, error)
}

// RemoteAPI pushes requesters to the ticketing API. Satisfied by RemoteClient.
type RemoteAPI interface {
	Create(ctx context.Context, accessToken string, envelope RemoteEnvelope) (*RemoteRequester, error)
	Update(ctx context.Context, accessToken, requesterID string, envelope RemoteEnvelope) (*RemoteRequester, error)
}

// Gateway coordinates requester operations across the search provider,
// the ticketing API, and the local cache, recording one audit entry per
// operation once its outcome is known.
type Gateway struct {
	local    LocalCache
	search   Searcher
	remote   RemoteAPI
	tokens   TokenProvider
	recorder audit.Recorder
	logger   *observability.Logger
}

// NewGateway wires the requester collaborators together
func NewGateway(local LocalCache, search Searcher, remote RemoteAPI,
	tokens TokenProvider, recorder audit.Recorder, logger *observability.Logger) *Gateway {
	return &Gateway{
		local:    local,
		search:   search,
		remote:   remote,
		tokens:   tokens,
		recorder: recorder,
		logger:   logger,
	}
}

// Search queries the external provider and attaches a local match to
// each hit sharing an exact email_id. The provider and local fetches run
// concurrently since neither depends on the other.
func (g *Gateway) Search(ctx context.Context, username, term string) ([]EnrichedResult, error) {
	var (
		external []ExternalResult
		locals   []Record
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		results, err := g.search.Search(groupCtx, term)
		if err != nil {
			return err
		}
		external = results
		return nil
	})
	group.Go(func() error {
		records, err := g.local.List(groupCtx)
		if err != nil {
			return err
		}
		locals = records
		return nil
	})
	err := group.Wait()

	entry := audit.Entry{
		Username: username,
		Module:   audit.ModuleRequester,
		Action:   audit.ActionSearch,
		NewValue: fmt.Sprintf("searched external: %q", term),
	}
	if err != nil {
		entry.NewValue = fmt.Sprintf("search failed for %q", term)
		g.recorder.Record(ctx, entry)
		return nil, err
	}
	g.recorder.Record(ctx, entry)

	byEmail := make(map[string]*Record, len(locals))
	for i := range locals {
		if locals[i].EmailID != "" {
			byEmail[locals[i].EmailID] = &locals[i]
		}
	}

	enriched := make([]EnrichedResult, 0, len(external))
	for _, hit := range external {
		enriched = append(enriched, EnrichedResult{
			ExternalResult: hit,
			Source:         "external",
			LocalMatch:     byEmail[hit.EmailID],
		})
	}
	return enriched, nil
}

// Create pushes a new requester to the ticketing API and mirrors the
// result locally. Without a usable credential it fails before touching
// the remote API or the local store.
func (g *Gateway) Create(ctx context.Context, username string, input Input) (*RemoteRequester, error) {
	cred, err := g.tokens.Current()
	if err != nil {
		return nil, err
	}

	remote, err := g.remote.Create(ctx, cred.AccessToken, input.ToRemoteEnvelope())

	entry := audit.Entry{
		Username: username,
		Module:   audit.ModuleRequester,
		Action:   audit.ActionCreate,
	}
	if err != nil {
		entry.NewValue = fmt.Sprintf("create failed for %s", input.EmailID)
		g.recorder.Record(ctx, entry)
		return nil, err
	}
	entry.NewValue = summarize(remote)
	g.recorder.Record(ctx, entry)

	// The local store is a cache of pushed records, not the system of
	// record, so a failed mirror must not fail the call.
	if mirrorErr := g.local.Insert(ctx, remote.ToRecord()); mirrorErr != nil {
		g.logger.WithError(mirrorErr).
			WithField("requester_id", remote.ID).
			Warn("failed to mirror created requester locally")
	}
	return remote, nil
}

// Update rewrites a requester on the ticketing API and refreshes the
// local mirror. The id is the provider's requester id.
func (g *Gateway) Update(ctx context.Context, username, requesterID string, input Input) (*RemoteRequester, error) {
	cred, err := g.tokens.Current()
	if err != nil {
		return nil, err
	}

	previous, prevErr := g.local.FindByRemoteID(ctx, requesterID)

	remote, err := g.remote.Update(ctx, cred.AccessToken, requesterID, input.ToRemoteEnvelope())

	entry := audit.Entry{
		Username: username,
		Module:   audit.ModuleRequester,
		Action:   audit.ActionUpdate,
	}
	if prevErr == nil {
		entry.OldValue = summarizeRecord(previous)
	}
	if err != nil {
		entry.NewValue = fmt.Sprintf("update failed for requester %s", requesterID)
		g.recorder.Record(ctx, entry)
		return nil, err
	}
	entry.NewValue = summarize(remote)
	g.recorder.Record(ctx, entry)

	record := remote.ToRecord()
	if record.RequesterID == "" {
		record.RequesterID = requesterID
	}
	mirrorErr := g.local.Update(ctx, record)
	if mirrorErr == ErrNotFound {
		mirrorErr = g.local.Insert(ctx, record)
	}
	if mirrorErr != nil {
		g.logger.WithError(mirrorErr).
			WithField("requester_id", requesterID).
			Warn("failed to mirror updated requester locally")
	}
	return remote, nil
}

func summarize(r *RemoteRequester) string {
	raw, err := json.Marshal(r)
	if err != nil {
		return r.EmailID
	}
	return string(raw)
}

func summarizeRecord(r Record) string {
	raw, err := json.Marshal(r)
	if err != nil {
		return r.EmailID
	}
	return string(raw)
}
