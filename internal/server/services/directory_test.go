package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fedid/internal/common"
	"github.com/dmitrijs2005/fedid/internal/cryptox"
	"github.com/dmitrijs2005/fedid/internal/logging"
	"github.com/dmitrijs2005/fedid/internal/server/models"
	"github.com/dmitrijs2005/fedid/internal/server/pepper"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.DirectoryRecord{Address: "@alice:example.org", Medium: "email", Value: "Alice@Example.org", Active: true}
	bob   = models.DirectoryRecord{Address: "@bob:example.org", Medium: "msisdn", Value: "+1 555 0100", Active: false}
)

func newDirectory(t *testing.T, peppers *fixedPeppers, src *fakeSource) (*DirectoryService, *fakeRepoManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	var s *DirectoryService
	if src == nil {
		s = NewDirectoryService(db, rm, peppers, nil, newMetrics(), logging.NewNop())
	} else {
		s = NewDirectoryService(db, rm, peppers, src, newMetrics(), logging.NewNop())
	}
	return s, rm, mock
}

func TestRebuild_HashesUnderEveryLivePepper(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P2", Previous: "P1"}}
	s, rm, mock := newDirectory(t, peppers, &fakeSource{records: []models.DirectoryRecord{alice, bob}})
	mock.ExpectBegin()
	mock.ExpectCommit()

	n, err := s.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	for _, p := range []string{"P1", "P2"} {
		ha := cryptox.Hash3PID("alice@example.org", "email", p)
		e, ok := rm.hashes.rows[hashKey{ha, p}]
		require.True(t, ok, "alice under %s", p)
		assert.Equal(t, "@alice:example.org", e.Address)
		assert.True(t, e.Active)

		hb := cryptox.Hash3PID("15550100", "msisdn", p)
		e, ok = rm.hashes.rows[hashKey{hb, p}]
		require.True(t, ok, "bob under %s", p)
		assert.False(t, e.Active)
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(s.metrics.DirectoryEntries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuild_PrunesRetiredPepperAndVanishedUsers(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P2", Previous: "P1"}}
	s, rm, mock := newDirectory(t, peppers, &fakeSource{records: []models.DirectoryRecord{alice}})

	past := time.Now().Add(-time.Hour)
	rm.hashes.put(models.HashEntry{Hash: "retired", Pepper: "P0", Address: "@alice:example.org", Active: true, SeenAt: past})
	rm.hashes.put(models.HashEntry{Hash: "gone", Pepper: "P2", Address: "@carol:example.org", Active: true, SeenAt: past})

	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err := s.Rebuild(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, rm.hashes.rows, hashKey{"retired", "P0"})
	assert.NotContains(t, rm.hashes.rows, hashKey{"gone", "P2"})
	assert.Len(t, rm.hashes.rows, 2)
}

func TestRebuild_KeepsRowsWrittenAtScanStart(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P1"}}
	s, rm, mock := newDirectory(t, peppers, &fakeSource{records: []models.DirectoryRecord{alice}})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	s.now = func() time.Time { return fixed }

	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err := s.Rebuild(context.Background())
	require.NoError(t, err)

	require.Len(t, rm.hashes.rows, 1)
	for _, e := range rm.hashes.rows {
		assert.Equal(t, fixed.Truncate(time.Microsecond), e.SeenAt)
	}
}

func TestRebuild_Errors(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P1"}}

	s, _, _ := newDirectory(t, peppers, nil)
	_, err := s.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrNoDirectorySource)
	assert.False(t, s.HasSource())

	s, _, mock := newDirectory(t, peppers, &fakeSource{err: errors.New("ldap down")})
	_, err = s.Rebuild(context.Background())
	assert.ErrorContains(t, err, "read directory")
	require.NoError(t, mock.ExpectationsWereMet(), "no transaction when the scan fails")

	s, rm, mock := newDirectory(t, peppers, &fakeSource{records: []models.DirectoryRecord{alice}})
	rm.hashes.pruneErr = errors.New("lock timeout")
	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err = s.Rebuild(context.Background())
	assert.ErrorContains(t, err, "prune hashes")
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.DirectoryRebuilds.WithLabelValues("error")))
}

func TestBind_ThenResolve(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P2", Previous: "P1"}}
	s, rm, mock := newDirectory(t, peppers, nil)
	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.Bind(context.Background(), alice))
	assert.Len(t, rm.hashes.rows, 2)
	assert.Equal(t, "alice@example.org", rm.bindings.rows[bindingKey{"email", "alice@example.org"}].Value)

	lookup := NewLookupService(nil, rm, false, newMetrics())
	h := cryptox.Hash3PID("alice@example.org", "email", "P1")
	res, err := lookup.Resolve(context.Background(), []string{h})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{h: "@alice:example.org"}, res.Mappings)
	assert.Empty(t, res.ThirdPartyMappings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBind_StaysResolvableAcrossRotations(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P1"}}
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s := NewDirectoryService(db, rm, peppers, rm.bindings, newMetrics(), logging.NewNop())
	lookup := NewLookupService(db, rm, false, newMetrics())
	ctx := context.Background()

	resolve := func(p string) map[string]string {
		t.Helper()
		res, err := lookup.Resolve(ctx, []string{cryptox.Hash3PID("alice@example.org", "email", p)})
		require.NoError(t, err)
		return res.Mappings
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, s.Bind(ctx, alice))

	for _, next := range []string{"P2", "P3"} {
		peppers.rotate(next)
		mock.ExpectBegin()
		mock.ExpectCommit()
		_, err := s.Rebuild(ctx)
		require.NoError(t, err)
		assert.Len(t, resolve(next), 1, "resolvable under current %s", next)
	}
	assert.Len(t, resolve("P2"), 1, "previous pepper still answers")
	assert.Empty(t, resolve("P1"), "retired pepper pruned")
	assert.Len(t, rm.hashes.rows, 2)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, s.Unbind(ctx, "email", "alice@example.org"))
	assert.Empty(t, rm.hashes.rows)
	assert.Empty(t, rm.bindings.rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBind_Validation(t *testing.T) {
	s, _, _ := newDirectory(t, &fixedPeppers{pair: pepper.Pair{Current: "P1"}}, nil)
	err := s.Bind(context.Background(), models.DirectoryRecord{Medium: "email", Value: "x@example.org"})
	assert.ErrorIs(t, err, common.ErrorValidation)

	err = s.Bind(context.Background(), models.DirectoryRecord{Address: "@x:example.org", Medium: "msisdn", Value: "n/a"})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestUnbind(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P2", Previous: "P1"}}
	s, rm, mock := newDirectory(t, peppers, nil)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, s.Bind(context.Background(), alice))
	require.NoError(t, s.Bind(context.Background(), bob))

	require.NoError(t, s.Unbind(context.Background(), "email", "alice@EXAMPLE.org"))
	assert.Len(t, rm.hashes.rows, 2, "only bob's rows remain")
	assert.Len(t, rm.bindings.rows, 1)

	assert.ErrorIs(t, s.Unbind(context.Background(), "email", "alice@example.org"), common.ErrorNotFound)
	assert.ErrorIs(t, s.Unbind(context.Background(), "", "x"), common.ErrorValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnbind_BindingWithoutLiveRows(t *testing.T) {
	peppers := &fixedPeppers{pair: pepper.Pair{Current: "P1"}}
	s, rm, mock := newDirectory(t, peppers, nil)
	rm.bindings.rows[bindingKey{"email", "alice@example.org"}] = alice
	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.Unbind(context.Background(), "email", "alice@example.org"))
	assert.Empty(t, rm.bindings.rows)
}

func TestActiveHashes(t *testing.T) {
	src := &fakeSource{records: []models.DirectoryRecord{alice, bob, alice}}
	s, _, _ := newDirectory(t, &fixedPeppers{pair: pepper.Pair{Current: "P1"}}, src)

	got, err := s.ActiveHashes(context.Background(), "remote-pepper")
	require.NoError(t, err)
	assert.Equal(t, []string{cryptox.Hash3PID("alice@example.org", "email", "remote-pepper")}, got)
}

func TestHashEntries_DuplicateIdentifierPrefersActive(t *testing.T) {
	inactive := alice
	inactive.Active = false
	inactive.Address = "@old:example.org"

	got := hashEntries([]models.DirectoryRecord{inactive, alice, {Address: "@x:example.org", Medium: "email"}}, []string{"P1"}, time.Time{})
	require.Len(t, got, 1)
	assert.True(t, got[0].Active)
	assert.Equal(t, "@alice:example.org", got[0].Address)
}
