package claims

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestFindByHashes(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+hash,\s*server,\s*pepper\s+FROM\s+federated_claims\s+WHERE\s+hash\s+IN\s+\(\$1,\s*\$2\)$`
	rows := sqlmock.NewRows([]string{"hash", "server", "pepper"}).
		AddRow("h1", "s1.example:443", "p1").
		AddRow("h1", "s2.example:443", "p1")
	mock.ExpectQuery(q).WithArgs("h1", "h2").WillReturnRows(rows)

	got, err := repo.FindByHashes(context.Background(), []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Server != "s1.example:443" || got[1].Server != "s2.example:443" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestFindByHashes_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("db err"))

	_, err := repo.FindByHashes(context.Background(), []string{"h1"})
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestDeleteStale_ScopedByServer(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*DELETE\s+FROM\s+federated_claims\s+WHERE\s+server\s*=\s*\$1\s+AND\s+pepper\s+NOT\s+IN\s+\(\$2,\s*\$3\)$`
	mock.ExpectExec(q).WithArgs("s1", "cur", "prev").WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteStale(context.Background(), "s1", []string{"cur", "prev"})
	if err != nil || n != 4 {
		t.Fatalf("want 4 deleted, got %d %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteStale_RefusesWithoutLivePeppers(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	if _, err := repo.DeleteStale(context.Background(), "s1", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestInsert_OneRowPerHash(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+federated_claims\s+\(hash,\s*server,\s*pepper\)\s+VALUES\s+\(\$1, \$2, \$3\), \(\$4, \$5, \$6\)\s+ON\s+CONFLICT\s+\(hash,\s*server,\s*pepper\)\s+DO\s+NOTHING$`
	mock.ExpectExec(q).
		WithArgs("h1", "s1", "p1", "h2", "s1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.Insert(context.Background(), "s1", "p1", []string{"h1", "h2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsert_EmptyIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	if err := repo.Insert(context.Background(), "s1", "p1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected statements: %v", err)
	}
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT`).WillReturnError(errors.New("db err"))

	err := repo.Insert(context.Background(), "s1", "p1", []string{"h1"})
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
