package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/adapters/sqlite"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func newTestCoordinator(t *testing.T) (*Coordinator, adapters.Adapter) {
	t.Helper()
	ctx := context.Background()
	a := &sqlite.Adapter{}
	if err := a.Connect(ctx, adapters.Config{Type: "sqlite", DSN: ":memory:", MaxConns: 1}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { a.Close(ctx) })

	seed := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL, age INTEGER)`,
		`INSERT INTO users (id, username, age) VALUES (1, 'john', 30), (2, 'jane', 25)`,
	}
	for _, s := range seed {
		if _, err := a.DB().ExecContext(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return NewCoordinator(a, zerolog.Nop()), a
}

func countRows(t *testing.T, a adapters.Adapter) int {
	t.Helper()
	res, err := a.Query(context.Background(), "", "users", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	return len(res.Rows)
}

func TestInsertPrecheckRejectsBadValue(t *testing.T) {
	c, a := newTestCoordinator(t)

	_, err := c.Insert(context.Background(), "", "users", map[string]string{
		"id": "3", "username": "bob", "age": "not-a-number",
	})
	var castErr *dberr.CastError
	if !errors.As(err, &castErr) {
		t.Fatalf("Insert() error = %v, want *CastError", err)
	}
	if countRows(t, a) != 2 {
		t.Error("отклоненная мутация не должна менять данные")
	}
}

func TestUpdateThroughCoordinator(t *testing.T) {
	c, a := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Update(ctx, "", "users",
		tabular.RowIdentity{"id": "2"},
		map[string]string{"username": "jane_smith"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	res, _ := a.Query(ctx, "", "users",
		[]tabular.WhereCondition{{Field: "id", Operator: tabular.OpEq, Value: "2"}},
		nil, tabular.PageSpec{})
	if res.Rows[0][1] != "jane_smith" {
		t.Errorf("username = %q", res.Rows[0][1])
	}
}

func TestTwoPhaseDelete(t *testing.T) {
	c, a := newTestCoordinator(t)
	ctx := context.Background()

	proposal, err := c.ProposeDelete(ctx, "", "users", tabular.RowIdentity{"id": "1"})
	if err != nil {
		t.Fatalf("ProposeDelete() error = %v", err)
	}
	if proposal.Token == "" {
		t.Fatal("предложение без токена")
	}
	if len(proposal.Preview.Rows) != 1 || proposal.Preview.Rows[0][1] != "john" {
		t.Errorf("preview = %v", proposal.Preview.Rows)
	}
	// фаза предложения ничего не удаляет
	if countRows(t, a) != 2 {
		t.Fatal("после предложения строки должны остаться")
	}

	if _, err := c.ConfirmDelete(ctx, proposal.Token); err != nil {
		t.Fatalf("ConfirmDelete() error = %v", err)
	}
	if countRows(t, a) != 1 {
		t.Error("после подтверждения строка должна исчезнуть")
	}

	// повторное подтверждение того же токена отклоняется
	_, err = c.ConfirmDelete(ctx, proposal.Token)
	var valErr *dberr.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("повторный ConfirmDelete() error = %v, want *ValidationError", err)
	}
}

func TestConfirmDeleteUnknownToken(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.ConfirmDelete(context.Background(), "deadbeef")
	var valErr *dberr.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("ConfirmDelete() error = %v, want *ValidationError", err)
	}
}

func TestProposeDeleteAmbiguousIdentity(t *testing.T) {
	c, _ := newTestCoordinator(t)

	// идентичность по неуникальной колонке, разрешающаяся в 0 строк
	_, err := c.ProposeDelete(context.Background(), "", "users", tabular.RowIdentity{"id": "999"})
	var constraintErr *dberr.ConstraintError
	if !errors.As(err, &constraintErr) {
		t.Fatalf("ProposeDelete() error = %v, want *ConstraintError", err)
	}
}

func TestCancelDelete(t *testing.T) {
	c, a := newTestCoordinator(t)
	ctx := context.Background()

	proposal, err := c.ProposeDelete(ctx, "", "users", tabular.RowIdentity{"id": "1"})
	if err != nil {
		t.Fatalf("ProposeDelete() error = %v", err)
	}
	if !c.CancelDelete(proposal.Token) {
		t.Fatal("CancelDelete() должен найти активное предложение")
	}
	if _, err := c.ConfirmDelete(ctx, proposal.Token); err == nil {
		t.Fatal("отмененное предложение нельзя подтвердить")
	}
	if countRows(t, a) != 2 {
		t.Error("отмена не должна трогать данные")
	}
}

func TestProposalTokensUnique(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	p1, err := c.ProposeDelete(ctx, "", "users", tabular.RowIdentity{"id": "1"})
	if err != nil {
		t.Fatalf("ProposeDelete() error = %v", err)
	}
	p2, err := c.ProposeDelete(ctx, "", "users", tabular.RowIdentity{"id": "1"})
	if err != nil {
		t.Fatalf("ProposeDelete() error = %v", err)
	}
	if p1.Token == p2.Token {
		t.Error("токены повторных предложений обязаны различаться")
	}
}
