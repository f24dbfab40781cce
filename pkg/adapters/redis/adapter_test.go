package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func newTestAdapter(t *testing.T) (*Adapter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	srv.Set("greeting", "hello")
	srv.HSet("user:1", "name", "jane", "email", "jane@example.com")
	srv.Lpush("queue", "third")
	srv.Lpush("queue", "second")
	srv.Lpush("queue", "first")
	srv.SetAdd("tags", "go", "redis", "db")
	srv.ZAdd("scores", 1.5, "alice")
	srv.ZAdd("scores", 42, "bob")

	a := &Adapter{}
	ctx := context.Background()
	if err := a.Connect(ctx, adapters.Config{Type: "redis", DSN: "redis://" + srv.Addr()}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { a.Close(ctx) })
	return a, srv
}

func TestListUnitsTypes(t *testing.T) {
	a, _ := newTestAdapter(t)
	units, err := a.ListUnits(context.Background(), "")
	if err != nil {
		t.Fatalf("ListUnits() error = %v", err)
	}
	types := map[string]string{}
	for _, u := range units {
		types[u.Name] = u.GetAttribute("Type")
	}
	want := map[string]string{
		"greeting": "string", "user:1": "hash", "queue": "list", "tags": "set", "scores": "zset",
	}
	for k, w := range want {
		if types[k] != w {
			t.Errorf("тип %q = %q, want %q", k, types[k], w)
		}
	}
}

func TestQueryLayouts(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	res, err := a.Query(ctx, "", "greeting", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query(string) error = %v", err)
	}
	if len(res.Columns) != 1 || res.Columns[0].Name != "value" {
		t.Errorf("string колонки = %+v", res.Columns)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "hello" {
		t.Errorf("string строки = %v", res.Rows)
	}

	res, err = a.Query(ctx, "", "user:1", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query(hash) error = %v", err)
	}
	if res.Columns[0].Name != "field" || res.Columns[1].Name != "value" {
		t.Errorf("hash колонки = %+v", res.Columns)
	}
	// поля отсортированы: email, name
	if res.Rows[0][0] != "email" || res.Rows[1][0] != "name" {
		t.Errorf("hash строки = %v", res.Rows)
	}

	res, err = a.Query(ctx, "", "queue", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query(list) error = %v", err)
	}
	if res.Rows[0][0] != "0" || res.Rows[0][1] != "first" {
		t.Errorf("list строки = %v", res.Rows)
	}

	res, err = a.Query(ctx, "", "tags", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query(set) error = %v", err)
	}
	if !res.DisableUpdate {
		t.Error("set обязан помечать результат DisableUpdate")
	}

	res, err = a.Query(ctx, "", "scores", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query(zset) error = %v", err)
	}
	if len(res.Columns) != 3 || res.Columns[2].Name != "score" {
		t.Errorf("zset колонки = %+v", res.Columns)
	}
	if res.Rows[0][1] != "alice" || res.Rows[0][2] != "1.5" {
		t.Errorf("zset строки = %v", res.Rows)
	}
}

func TestQueryClientSideFilterSortPage(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	res, err := a.Query(ctx, "", "tags",
		[]tabular.WhereCondition{{Field: "value", Operator: tabular.OpLike, Value: "%d%"}},
		[]tabular.SortSpec{{Column: "value", Direction: tabular.SortDesc}},
		tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	// db и redis содержат d; сортировка по убыванию: redis, db
	if len(res.Rows) != 2 || res.Rows[0][1] != "redis" || res.Rows[1][1] != "db" {
		t.Errorf("строки = %v", res.Rows)
	}

	// числовое сравнение по score
	res, err = a.Query(ctx, "", "scores",
		[]tabular.WhereCondition{{Field: "score", Operator: tabular.OpGt, Value: "2"}},
		nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][1] != "bob" {
		t.Errorf("строки = %v", res.Rows)
	}
	if res.TotalCount == nil || *res.TotalCount != 1 {
		t.Errorf("TotalCount = %v, фильтр должен влиять на счетчик", res.TotalCount)
	}

	// клиентская пагинация эквивалентна серверной
	res, err = a.Query(ctx, "", "queue", nil, nil, tabular.PageSpec{Size: 10, Offset: 0})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Rows) != 3 || *res.TotalCount != 3 {
		t.Errorf("строк = %d, total = %v", len(res.Rows), res.TotalCount)
	}
}

func TestMutateHash(t *testing.T) {
	a, srv := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Mutate(ctx, tabular.MutationRequest{
		Unit: "user:1", Op: tabular.OpUpdate,
		Identity: tabular.RowIdentity{"field": "name"},
		Values:   map[string]string{"value": "jane_smith"},
	})
	if err != nil {
		t.Fatalf("Mutate(update hash) error = %v", err)
	}
	if got := srv.HGet("user:1", "name"); got != "jane_smith" {
		t.Errorf("name = %q", got)
	}

	_, err = a.Mutate(ctx, tabular.MutationRequest{
		Unit: "user:1", Op: tabular.OpDelete,
		Identity: tabular.RowIdentity{"field": "email"},
	})
	if err != nil {
		t.Fatalf("Mutate(delete hash) error = %v", err)
	}
	if srv.HGet("user:1", "email") != "" {
		t.Error("поле email должно быть удалено")
	}

	// вставка существующего поля - нарушение уникальности
	_, err = a.Mutate(ctx, tabular.MutationRequest{
		Unit: "user:1", Op: tabular.OpInsert,
		Values: map[string]string{"field": "name", "value": "x"},
	})
	var constraintErr *dberr.ConstraintError
	if !errors.As(err, &constraintErr) {
		t.Fatalf("Mutate(insert dup) error = %v, want *ConstraintError", err)
	}
}

func TestMutateStringAndList(t *testing.T) {
	a, srv := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Mutate(ctx, tabular.MutationRequest{
		Unit: "greeting", Op: tabular.OpUpdate,
		Values: map[string]string{"value": "bonjour"},
	})
	if err != nil {
		t.Fatalf("Mutate(update string) error = %v", err)
	}
	if got, _ := srv.Get("greeting"); got != "bonjour" {
		t.Errorf("greeting = %q", got)
	}

	var unsupported *dberr.UnsupportedOperationError
	_, err = a.Mutate(ctx, tabular.MutationRequest{
		Unit: "greeting", Op: tabular.OpDelete,
		Identity: tabular.RowIdentity{"value": "bonjour"},
	})
	if !errors.As(err, &unsupported) {
		t.Fatalf("delete string error = %v, want *UnsupportedOperationError", err)
	}

	_, err = a.Mutate(ctx, tabular.MutationRequest{
		Unit: "queue", Op: tabular.OpUpdate,
		Identity: tabular.RowIdentity{"index": "1"},
		Values:   map[string]string{"value": "second_v2"},
	})
	if err != nil {
		t.Fatalf("Mutate(update list) error = %v", err)
	}
	vals, _ := srv.List("queue")
	if vals[1] != "second_v2" {
		t.Errorf("queue = %v", vals)
	}
}

func TestMutateSetMemberUpdateUnsupported(t *testing.T) {
	a, srv := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Mutate(ctx, tabular.MutationRequest{
		Unit: "tags", Op: tabular.OpUpdate,
		Identity: tabular.RowIdentity{"value": "go"},
		Values:   map[string]string{"value": "golang"},
	})
	var unsupported *dberr.UnsupportedOperationError
	if !errors.As(err, &unsupported) {
		t.Fatalf("update set member error = %v, want *UnsupportedOperationError", err)
	}
	// структура не изменилась
	if ok, _ := srv.SIsMember("tags", "go"); !ok {
		t.Error("член go должен остаться нетронутым")
	}

	_, err = a.Mutate(ctx, tabular.MutationRequest{
		Unit: "tags", Op: tabular.OpDelete,
		Identity: tabular.RowIdentity{"value": "db"},
	})
	if err != nil {
		t.Fatalf("Mutate(delete set) error = %v", err)
	}
	if ok, _ := srv.SIsMember("tags", "db"); ok {
		t.Error("член db должен быть удален")
	}
}

func TestMutateZSet(t *testing.T) {
	a, srv := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Mutate(ctx, tabular.MutationRequest{
		Unit: "scores", Op: tabular.OpUpdate,
		Identity: tabular.RowIdentity{"member": "alice"},
		Values:   map[string]string{"score": "7.25"},
	})
	if err != nil {
		t.Fatalf("Mutate(update zset) error = %v", err)
	}
	if score, _ := srv.ZScore("scores", "alice"); score != 7.25 {
		t.Errorf("score = %v", score)
	}

	_, err = a.Mutate(ctx, tabular.MutationRequest{
		Unit: "scores", Op: tabular.OpUpdate,
		Identity: tabular.RowIdentity{"member": "alice"},
		Values:   map[string]string{"score": "not-a-number"},
	})
	var castErr *dberr.CastError
	if !errors.As(err, &castErr) {
		t.Fatalf("zset bad score error = %v, want *CastError", err)
	}
}

func TestQueryMissingKey(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, err := a.Query(context.Background(), "", "no-such-key", nil, nil, tabular.PageSpec{})
	var syntaxErr *dberr.QuerySyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("Query(missing) error = %v, want *QuerySyntaxError", err)
	}
}
