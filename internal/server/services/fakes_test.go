package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fedid/internal/dbx"
	"github.com/dmitrijs2005/fedid/internal/server/metrics"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/pepper"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/bindings"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/claims"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/grants"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/hashes"
	"github.com/dmitrijs2005/fedid/internal/server/repositories/peppers"
	"github.com/prometheus/client_golang/prometheus"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

type fixedPeppers struct {
	mu   sync.Mutex
	pair pepper.Pair
}

func (f *fixedPeppers) Snapshot() pepper.Pair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pair
}

func (f *fixedPeppers) rotate(next string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pair = pepper.Pair{Current: next, Previous: f.pair.Current}
}

// --- in-memory repositories ---

type hashKey struct{ hash, pepper string }

type memHashes struct {
	rows map[hashKey]models.HashEntry

	findErr   error
	upsertErr error
	pruneErr  error

	findCalls      int
	lastActiveOnly bool
}

func newMemHashes() *memHashes {
	return &memHashes{rows: map[hashKey]models.HashEntry{}}
}

func (m *memHashes) put(e models.HashEntry) {
	m.rows[hashKey{e.Hash, e.Pepper}] = e
}

func (m *memHashes) FindByHashes(ctx context.Context, hs []string, activeOnly bool) ([]*models.HashEntry, error) {
	m.findCalls++
	m.lastActiveOnly = activeOnly
	if m.findErr != nil {
		return nil, m.findErr
	}
	want := map[string]bool{}
	for _, h := range hs {
		want[h] = true
	}
	var out []*models.HashEntry
	for _, e := range m.rows {
		if !want[e.Hash] || (activeOnly && !e.Active) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (m *memHashes) Upsert(ctx context.Context, entries []*models.HashEntry) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range entries {
		m.put(*e)
	}
	return nil
}

func (m *memHashes) DeleteByHashes(ctx context.Context, hs []string) (int64, error) {
	var n int64
	for _, h := range hs {
		for k := range m.rows {
			if k.hash == h {
				delete(m.rows, k)
				n++
			}
		}
	}
	return n, nil
}

func (m *memHashes) Prune(ctx context.Context, live []string, seenBefore time.Time) (int64, error) {
	if m.pruneErr != nil {
		return 0, m.pruneErr
	}
	isLive := map[string]bool{}
	for _, p := range live {
		isLive[p] = true
	}
	var n int64
	for k, e := range m.rows {
		if !isLive[k.pepper] || e.SeenAt.Before(seenBefore) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

type claimKey struct{ hash, server, pepper string }

type memClaims struct {
	rows map[claimKey]struct{}

	findErr   error
	deleteErr error
	insertErr error

	findCalls int
	lastFind  []string
}

func newMemClaims() *memClaims {
	return &memClaims{rows: map[claimKey]struct{}{}}
}

func (m *memClaims) has(hash, server, pepper string) bool {
	_, ok := m.rows[claimKey{hash, server, pepper}]
	return ok
}

func (m *memClaims) FindByHashes(ctx context.Context, hs []string) ([]*models.FederatedClaim, error) {
	m.findCalls++
	m.lastFind = append([]string(nil), hs...)
	if m.findErr != nil {
		return nil, m.findErr
	}
	want := map[string]bool{}
	for _, h := range hs {
		want[h] = true
	}
	var out []*models.FederatedClaim
	for k := range m.rows {
		if want[k.hash] {
			out = append(out, &models.FederatedClaim{Hash: k.hash, Server: k.server, Pepper: k.pepper})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

func (m *memClaims) DeleteStale(ctx context.Context, server string, live []string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	isLive := map[string]bool{}
	for _, p := range live {
		isLive[p] = true
	}
	var n int64
	for k := range m.rows {
		if k.server == server && !isLive[k.pepper] {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memClaims) Insert(ctx context.Context, server, pepper string, hs []string) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, h := range hs {
		m.rows[claimKey{h, server, pepper}] = struct{}{}
	}
	return nil
}

type bindingKey struct{ medium, value string }

// memBindings doubles as the directory source reading the bound identifiers,
// the way the default "sql" source reads directory_users.
type memBindings struct {
	rows map[bindingKey]models.DirectoryRecord
}

func newMemBindings() *memBindings {
	return &memBindings{rows: map[bindingKey]models.DirectoryRecord{}}
}

func (m *memBindings) Save(ctx context.Context, rec models.DirectoryRecord) error {
	m.rows[bindingKey{rec.Medium, rec.Value}] = rec
	return nil
}

func (m *memBindings) Delete(ctx context.Context, medium, value string) (int64, error) {
	k := bindingKey{medium, value}
	if _, ok := m.rows[k]; !ok {
		return 0, nil
	}
	delete(m.rows, k)
	return 1, nil
}

func (m *memBindings) Records(ctx context.Context) ([]models.DirectoryRecord, error) {
	out := make([]models.DirectoryRecord, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

type fakeRepoManager struct {
	hashes   *memHashes
	claims   *memClaims
	bindings *memBindings
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{hashes: newMemHashes(), claims: newMemClaims(), bindings: newMemBindings()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Hashes(db dbx.DBTX) hashes.Repository         { return m.hashes }
func (m *fakeRepoManager) Claims(db dbx.DBTX) claims.Repository         { return m.claims }
func (m *fakeRepoManager) Peppers(db dbx.DBTX) peppers.Repository       { return nil }
func (m *fakeRepoManager) Grants(db dbx.DBTX) grants.Repository         { return nil }
func (m *fakeRepoManager) Bindings(db dbx.DBTX) bindings.Repository     { return m.bindings }

type fakeSource struct {
	records []models.DirectoryRecord
	err     error
}

func (f *fakeSource) Records(ctx context.Context) ([]models.DirectoryRecord, error) {
	return f.records, f.err
}
