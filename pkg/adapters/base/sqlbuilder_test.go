package base

import (
	"errors"
	"strings"
	"testing"

	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func asError[T error](err error, target *T) bool {
	return errors.As(err, target)
}

func TestBuildSelectPostgres(t *testing.T) {
	b := NewSelectBuilder(DialectPostgres)

	stmt, err := b.BuildSelect("public", "users", []Condition{
		{Field: "age", Operator: tabular.OpGte, Value: int64(18)},
		{Field: "username", Operator: tabular.OpLike, Value: "jane%"},
	}, []tabular.SortSpec{
		{Column: "created_at", Direction: tabular.SortDesc},
		{Column: "id", Direction: tabular.SortAsc},
	}, tabular.PageSpec{Size: 25, Offset: 50})
	if err != nil {
		t.Fatalf("BuildSelect() error = %v", err)
	}

	want := `SELECT * FROM "public"."users" WHERE "age" >= $1 AND "username" LIKE $2 ORDER BY "created_at" DESC, "id" ASC LIMIT 25 OFFSET 50`
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	if len(stmt.Args) != 2 || stmt.Args[0] != int64(18) || stmt.Args[1] != "jane%" {
		t.Errorf("Args = %v", stmt.Args)
	}
}

func TestBuildSelectMSSQLOffsetFetch(t *testing.T) {
	b := NewSelectBuilder(DialectMSSQL)

	stmt, err := b.BuildSelect("dbo", "orders", nil, nil, tabular.PageSpec{Size: 10, Offset: 20})
	if err != nil {
		t.Fatalf("BuildSelect() error = %v", err)
	}
	// Без ORDER BY движок требует детерминированный порядок для OFFSET/FETCH
	want := "SELECT * FROM [dbo].[orders] ORDER BY (SELECT NULL) OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY"
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
}

func TestBuildSelectIsNullTakesNoArg(t *testing.T) {
	b := NewSelectBuilder(DialectSQLite)

	stmt, err := b.BuildSelect("", "users", []Condition{
		{Field: "deleted_at", Operator: tabular.OpIsNull},
		{Field: "id", Operator: tabular.OpGt, Value: int64(0)},
	}, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("BuildSelect() error = %v", err)
	}
	want := `SELECT * FROM "users" WHERE "deleted_at" IS NULL AND "id" > ?`
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	if len(stmt.Args) != 1 {
		t.Errorf("Args = %v, want exactly one", stmt.Args)
	}
}

func TestBuildSelectRejectsBadIdent(t *testing.T) {
	b := NewSelectBuilder(DialectPostgres)

	cases := []struct {
		schema, unit string
	}{
		{"public", `users"; DROP TABLE users; --`},
		{`pub"lic`, "users"},
		{"", "users table"},
	}
	for _, c := range cases {
		_, err := b.BuildSelect(c.schema, c.unit, nil, nil, tabular.PageSpec{})
		var syntaxErr *dberr.QuerySyntaxError
		if !asError(err, &syntaxErr) {
			t.Errorf("BuildSelect(%q, %q) error = %v, want *QuerySyntaxError", c.schema, c.unit, err)
		}
	}
}

func TestBuildSelectRejectsInvalidPageSize(t *testing.T) {
	b := NewSelectBuilder(DialectPostgres)
	_, err := b.BuildSelect("", "users", nil, nil, tabular.PageSpec{Size: 33})
	if err == nil {
		t.Fatal("BuildSelect() с size=33 должен вернуть ошибку")
	}
}

func TestBuildInsertDeterministicColumnOrder(t *testing.T) {
	b := NewSelectBuilder(DialectMySQL)

	stmt, err := b.BuildInsert("", "users", map[string]any{
		"username": "jane", "id": int64(1), "email": "jane@example.com",
	})
	if err != nil {
		t.Fatalf("BuildInsert() error = %v", err)
	}
	want := "INSERT INTO `users` (`email`, `id`, `username`) VALUES (?, ?, ?)"
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	if stmt.Args[0] != "jane@example.com" || stmt.Args[1] != int64(1) || stmt.Args[2] != "jane" {
		t.Errorf("Args = %v", stmt.Args)
	}
}

func TestBuildUpdateIdentityAfterSet(t *testing.T) {
	b := NewSelectBuilder(DialectPostgres)

	stmt, err := b.BuildUpdate("public", "users",
		map[string]any{"username": "jane_smith1"},
		map[string]any{"id": int64(2)})
	if err != nil {
		t.Fatalf("BuildUpdate() error = %v", err)
	}
	want := `UPDATE "public"."users" SET "username" = $1 WHERE "id" = $2`
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
}

func TestBuildUpdateRequiresIdentity(t *testing.T) {
	b := NewSelectBuilder(DialectPostgres)
	_, err := b.BuildUpdate("", "users", map[string]any{"a": 1}, nil)
	if err == nil {
		t.Fatal("BuildUpdate() без идентичности должен вернуть ошибку")
	}
}

func TestBuildDeleteNullIdentity(t *testing.T) {
	b := NewSelectBuilder(DialectSQLite)

	stmt, err := b.BuildDelete("", "events", map[string]any{
		"id":         int64(7),
		"deleted_at": nil,
	})
	if err != nil {
		t.Fatalf("BuildDelete() error = %v", err)
	}
	want := `DELETE FROM "events" WHERE "deleted_at" IS NULL AND "id" = ?`
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	if len(stmt.Args) != 1 || stmt.Args[0] != int64(7) {
		t.Errorf("Args = %v", stmt.Args)
	}
}

func TestBuildUpsertStyles(t *testing.T) {
	values := map[string]any{"id": int64(1), "name": "x"}

	pg, err := NewSelectBuilder(DialectPostgres).BuildUpsert("", "t", values, []string{"id"})
	if err != nil {
		t.Fatalf("postgres upsert error = %v", err)
	}
	if !strings.Contains(pg.SQL, `ON CONFLICT ("id") DO UPDATE SET "name" = excluded."name"`) {
		t.Errorf("postgres SQL = %q", pg.SQL)
	}

	my, err := NewSelectBuilder(DialectMySQL).BuildUpsert("", "t", values, []string{"id"})
	if err != nil {
		t.Fatalf("mysql upsert error = %v", err)
	}
	if !strings.Contains(my.SQL, "ON DUPLICATE KEY UPDATE `name` = VALUES(`name`)") {
		t.Errorf("mysql SQL = %q", my.SQL)
	}

	_, err = NewSelectBuilder(DialectMSSQL).BuildUpsert("dbo", "t", values, []string{"id"})
	var unsupported *dberr.UnsupportedOperationError
	if !asError(err, &unsupported) {
		t.Errorf("mssql upsert error = %v, want *UnsupportedOperationError", err)
	}
}

func TestDialectParamStyles(t *testing.T) {
	if got := DialectPostgres.Param(3); got != "$3" {
		t.Errorf("postgres Param(3) = %q", got)
	}
	if got := DialectMySQL.Param(3); got != "?" {
		t.Errorf("mysql Param(3) = %q", got)
	}
	if got := DialectMSSQL.Param(3); got != "@p3" {
		t.Errorf("mssql Param(3) = %q", got)
	}
}

func TestValidIdent(t *testing.T) {
	valid := []string{"users", "_tmp", "Users2", "order_items", "col$1"}
	invalid := []string{"", "1abc", "a b", `a"b`, "a;b", "таблица"}
	for _, s := range valid {
		if !ValidIdent(s) {
			t.Errorf("ValidIdent(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidIdent(s) {
			t.Errorf("ValidIdent(%q) = true, want false", s)
		}
	}
}
