package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/pepper"
	"github.com/dmitrijs2005/fedid/internal/server/ratelimit"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/bindings"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/claims"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/grants"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/hashes"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/peppers"
)

type livePeppers struct {
	mu   sync.Mutex
	pair pepper.Pair
}

func (p *livePeppers) Snapshot() pepper.Pair {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pair
}

func (p *livePeppers) rotate(next string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pair = pepper.Pair{Current: next, Previous: p.pair.Current}
}

type grantTable map[string]string

func (g grantTable) Find(ctx context.Context, token string) (*models.AccessGrant, error) {
	sub, ok := g[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.AccessGrant{Token: token, Subject: sub}, nil
}

type countingGrants struct {
	grantTable
	calls int
}

func (c *countingGrants) Find(ctx context.Context, token string) (*models.AccessGrant, error) {
	c.calls++
	return c.grantTable.Find(ctx, token)
}

// memStore is a minimal in-memory backing for the hashes and claims
// repositories.
type memStore struct {
	mu     sync.Mutex
	hashes map[string]models.HashEntry
	claims map[[3]string]struct{}
}

func newMemStore() *memStore {
	return &memStore{hashes: map[string]models.HashEntry{}, claims: map[[3]string]struct{}{}}
}

func (m *memStore) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memStore) Hashes(dbx.DBTX) hashes.Repository            { return memHashes{m} }
func (m *memStore) Claims(dbx.DBTX) claims.Repository            { return memClaims{m} }
func (m *memStore) Peppers(dbx.DBTX) peppers.Repository          { return nil }
func (m *memStore) Grants(dbx.DBTX) grants.Repository            { return nil }
func (m *memStore) Bindings(dbx.DBTX) bindings.Repository        { return nil }

type memHashes struct{ m *memStore }

func (r memHashes) FindByHashes(ctx context.Context, hs []string, activeOnly bool) ([]*models.HashEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.HashEntry
	for _, h := range hs {
		if e, ok := r.m.hashes[h]; ok && (e.Active || !activeOnly) {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r memHashes) Upsert(ctx context.Context, entries []*models.HashEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, e := range entries {
		r.m.hashes[e.Hash] = *e
	}
	return nil
}

func (r memHashes) DeleteByHashes(ctx context.Context, hs []string) (int64, error) {
	return 0, errors.New("not used")
}

func (r memHashes) Prune(ctx context.Context, live []string, before time.Time) (int64, error) {
	return 0, errors.New("not used")
}

type memClaims struct{ m *memStore }

func (r memClaims) FindByHashes(ctx context.Context, hs []string) ([]*models.FederatedClaim, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	want := map[string]bool{}
	for _, h := range hs {
		want[h] = true
	}
	var out []*models.FederatedClaim
	for k := range r.m.claims {
		if want[k[0]] {
			out = append(out, &models.FederatedClaim{Hash: k[0], Server: k[1], Pepper: k[2]})
		}
	}
	return out, nil
}

func (r memClaims) DeleteStale(ctx context.Context, server string, live []string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for k := range r.m.claims {
		if k[1] != server {
			continue
		}
		stale := true
		for _, p := range live {
			if k[2] == p {
				stale = false
			}
		}
		if stale {
			delete(r.m.claims, k)
			n++
		}
	}
	return n, nil
}

func (r memClaims) Insert(ctx context.Context, server, pepper string, hs []string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, h := range hs {
		r.m.claims[[3]string{h, server, pepper}] = struct{}{}
	}
	return nil
}

type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context, hs []string) (*models.LookupResponse, error) {
	return nil, errors.New("connection reset")
}

type recordingIngester struct {
	calls int
	err   error
}

func (r *recordingIngester) Ingest(ctx context.Context, server, pepper string, hs []string) error {
	r.calls++
	return r.err
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}
