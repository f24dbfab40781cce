// Package redis - адаптер Redis (семейство key-value).
// Каждый ключ - отдельный unit; табличная раскладка зависит от типа ключа.
// Движок не умеет серверную фильтрацию по значениям, поэтому фильтры,
// сортировки и пагинация применяются на клиенте после полной выборки
// структуры - результат семантически эквивалентен серверной пагинации.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func init() {
	adapters.Register("redis", func() adapters.Adapter {
		return &Adapter{}
	})
}

// Adapter - адаптер Redis
type Adapter struct {
	client *goredis.Client
}

// Connect разбирает DSN, подключается и проверяет доступность
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	opts, err := goredis.ParseURL(cfg.DSN)
	if err != nil {
		return &dberr.ConnectionError{Engine: "redis", Err: err}
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return &dberr.ConnectionError{Engine: "redis", Err: err}
	}
	a.client = client
	return nil
}

// Close закрывает пул подключений
func (a *Adapter) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Ping проверяет доступность сервера
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return &dberr.ConnectionError{Engine: "redis", Err: err}
	}
	return nil
}

// Kind - key-value семейство
func (a *Adapter) Kind() tabular.EngineKind { return tabular.KindKeyValue }

// EngineType возвращает тип движка
func (a *Adapter) EngineType() string { return "redis" }

// ListUnits перечисляет ключи через SCAN с типом и TTL каждого ключа
func (a *Adapter) ListUnits(ctx context.Context, schema string) ([]tabular.StorageUnit, error) {
	var keys []string
	iter := a.client.Scan(ctx, 0, "*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	sort.Strings(keys)

	var units []tabular.StorageUnit
	for _, key := range keys {
		keyType, err := a.client.Type(ctx, key).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		size, err := a.structSize(ctx, key, keyType)
		if err != nil {
			return nil, err
		}
		ttl, err := a.client.TTL(ctx, key).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		ttlText := "none"
		if ttl > 0 {
			ttlText = ttl.String()
		}
		units = append(units, tabular.StorageUnit{
			Name: key,
			Kind: tabular.KindKeyValue,
			Attributes: []tabular.Attribute{
				{Key: "Type", Value: keyType},
				{Key: "Count", Value: strconv.FormatInt(size, 10)},
				{Key: "TTL", Value: ttlText},
			},
		})
	}
	return units, nil
}

// Columns возвращает табличную раскладку для типа ключа
func (a *Adapter) Columns(ctx context.Context, schema, unit string) ([]tabular.Column, error) {
	keyType, err := a.keyType(ctx, unit)
	if err != nil {
		return nil, err
	}
	return layoutFor(keyType)
}

// Explore возвращает метаданные ключа: тип, количество элементов, TTL
func (a *Adapter) Explore(ctx context.Context, schema, unit string) ([]tabular.Attribute, error) {
	keyType, err := a.keyType(ctx, unit)
	if err != nil {
		return nil, err
	}
	size, err := a.structSize(ctx, unit, keyType)
	if err != nil {
		return nil, err
	}
	ttl, err := a.client.TTL(ctx, unit).Result()
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	ttlText := "none"
	if ttl > 0 {
		ttlText = ttl.String()
	}
	return []tabular.Attribute{
		{Key: "Type", Value: keyType},
		{Key: "Count", Value: strconv.FormatInt(size, 10)},
		{Key: "TTL", Value: ttlText},
	}, nil
}

// Query выбирает структуру целиком и применяет фильтры, сортировки
// и пагинацию на клиенте
func (a *Adapter) Query(ctx context.Context, schema, unit string, where []tabular.WhereCondition, sortBy []tabular.SortSpec, page tabular.PageSpec) (*tabular.RowsResult, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	keyType, err := a.keyType(ctx, unit)
	if err != nil {
		return nil, err
	}
	cols, err := layoutFor(keyType)
	if err != nil {
		return nil, err
	}
	rows, err := a.fetchRows(ctx, unit, keyType)
	if err != nil {
		return nil, err
	}

	rows, err = applyWhere(rows, cols, where)
	if err != nil {
		return nil, err
	}
	if err := applySort(rows, cols, sortBy); err != nil {
		return nil, err
	}

	total := len(rows)
	rows = applyPage(rows, page)

	return &tabular.RowsResult{
		Columns:       cols,
		Rows:          rows,
		TotalCount:    &total,
		DisableUpdate: keyType == "set",
	}, nil
}

// Mutate выполняет одиночную мутацию элемента структуры.
// Бессмысленные для типа ключа операции возвращают
// UnsupportedOperationError без частичной эмуляции.
func (a *Adapter) Mutate(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	keyType, err := a.keyType(ctx, req.Unit)
	if err != nil {
		return nil, err
	}
	switch keyType {
	case "string":
		return a.mutateString(ctx, req)
	case "hash":
		return a.mutateHash(ctx, req)
	case "list":
		return a.mutateList(ctx, req)
	case "set":
		return a.mutateSet(ctx, req)
	case "zset":
		return a.mutateZSet(ctx, req)
	default:
		return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("тип ключа %q не поддерживает мутации", keyType)}
	}
}

// ========== Мутации по типам ключей ==========

func (a *Adapter) mutateString(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	switch req.Op {
	case tabular.OpUpdate:
		v, ok := req.Values["value"]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("string-ключ обновляется только по колонке value")}
		}
		if err := a.client.Set(ctx, req.Unit, v, goredis.KeepTTL).Err(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		return affected(1), nil
	case tabular.OpDelete:
		return nil, &dberr.UnsupportedOperationError{Reason: "удаление строки string-ключа не поддерживается: значение единственное, удаляйте сам ключ"}
	default:
		return nil, &dberr.UnsupportedOperationError{Reason: "string-ключ хранит единственное значение, вставка строк невозможна"}
	}
}

func (a *Adapter) mutateHash(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	switch req.Op {
	case tabular.OpInsert:
		field, ok := req.Values["field"]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("для вставки в hash требуется колонка field")}
		}
		added, err := a.client.HSetNX(ctx, req.Unit, field, req.Values["value"]).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		if !added {
			return nil, &dberr.ConstraintError{Reason: fmt.Sprintf("поле %q уже существует в hash", field)}
		}
		return affected(1), nil
	case tabular.OpUpdate:
		field, ok := req.Identity["field"]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("идентичность строки hash задается колонкой field")}
		}
		if err := a.client.HSet(ctx, req.Unit, field, req.Values["value"]).Err(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		return affected(1), nil
	case tabular.OpDelete:
		field, ok := req.Identity["field"]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("идентичность строки hash задается колонкой field")}
		}
		removed, err := a.client.HDel(ctx, req.Unit, field).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		if removed != 1 {
			return nil, &dberr.ConstraintError{Reason: fmt.Sprintf("поле %q не найдено в hash", field)}
		}
		return affected(1), nil
	}
	return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("неизвестная операция мутации: %q", req.Op)}
}

func (a *Adapter) mutateList(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	switch req.Op {
	case tabular.OpInsert:
		if err := a.client.RPush(ctx, req.Unit, req.Values["value"]).Err(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		return affected(1), nil
	case tabular.OpUpdate:
		idx, err := identityIndex(req.Identity)
		if err != nil {
			return nil, err
		}
		if err := a.client.LSet(ctx, req.Unit, idx, req.Values["value"]).Err(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		return affected(1), nil
	case tabular.OpDelete:
		return nil, &dberr.UnsupportedOperationError{Reason: "удаление элемента list по индексу не поддерживается движком атомарно"}
	}
	return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("неизвестная операция мутации: %q", req.Op)}
}

func (a *Adapter) mutateSet(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	switch req.Op {
	case tabular.OpInsert:
		added, err := a.client.SAdd(ctx, req.Unit, req.Values["value"]).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		if added != 1 {
			return nil, &dberr.ConstraintError{Reason: "элемент уже присутствует в set"}
		}
		return affected(1), nil
	case tabular.OpUpdate:
		// у члена множества нет идентичности отдельно от значения:
		// "обновить" можно только парой удаление+вставка, что меняет identity
		return nil, &dberr.UnsupportedOperationError{Reason: "обновление члена set не поддерживается: значение и есть идентичность элемента"}
	case tabular.OpDelete:
		member, ok := req.Identity["value"]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("идентичность строки set задается колонкой value")}
		}
		removed, err := a.client.SRem(ctx, req.Unit, member).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		if removed != 1 {
			return nil, &dberr.ConstraintError{Reason: fmt.Sprintf("элемент %q не найден в set", member)}
		}
		return affected(1), nil
	}
	return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("неизвестная операция мутации: %q", req.Op)}
}

func (a *Adapter) mutateZSet(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	switch req.Op {
	case tabular.OpInsert, tabular.OpUpdate:
		member := req.Values["member"]
		if member == "" {
			if m, ok := req.Identity["member"]; ok {
				member = m
			}
		}
		if member == "" {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("для zset требуется колонка member")}
		}
		score, err := strconv.ParseFloat(req.Values["score"], 64)
		if err != nil {
			return nil, &dberr.CastError{Type: "double", Value: req.Values["score"]}
		}
		if err := a.client.ZAdd(ctx, req.Unit, goredis.Z{Member: member, Score: score}).Err(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		return affected(1), nil
	case tabular.OpDelete:
		member, ok := req.Identity["member"]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("идентичность строки zset задается колонкой member")}
		}
		removed, err := a.client.ZRem(ctx, req.Unit, member).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		if removed != 1 {
			return nil, &dberr.ConstraintError{Reason: fmt.Sprintf("член %q не найден в zset", member)}
		}
		return affected(1), nil
	}
	return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("неизвестная операция мутации: %q", req.Op)}
}

// ========== Выборка структур ==========

func (a *Adapter) keyType(ctx context.Context, key string) (string, error) {
	keyType, err := a.client.Type(ctx, key).Result()
	if err != nil {
		return "", &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	if keyType == "none" {
		return "", &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: fmt.Errorf("ключ %q не существует", key)}
	}
	return keyType, nil
}

func (a *Adapter) structSize(ctx context.Context, key, keyType string) (int64, error) {
	var size int64
	var err error
	switch keyType {
	case "string":
		size, err = 1, nil
	case "hash":
		size, err = a.client.HLen(ctx, key).Result()
	case "list":
		size, err = a.client.LLen(ctx, key).Result()
	case "set":
		size, err = a.client.SCard(ctx, key).Result()
	case "zset":
		size, err = a.client.ZCard(ctx, key).Result()
	}
	if err != nil {
		return 0, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	return size, nil
}

// layoutFor возвращает табличную раскладку для типа ключа
func layoutFor(keyType string) ([]tabular.Column, error) {
	switch keyType {
	case "string":
		return []tabular.Column{{Name: "value", Type: "string"}}, nil
	case "hash":
		return []tabular.Column{{Name: "field", Type: "string"}, {Name: "value", Type: "string"}}, nil
	case "list":
		return []tabular.Column{{Name: "index", Type: "int"}, {Name: "value", Type: "string"}}, nil
	case "set":
		return []tabular.Column{{Name: "index", Type: "int"}, {Name: "value", Type: "string"}}, nil
	case "zset":
		return []tabular.Column{{Name: "index", Type: "int"}, {Name: "member", Type: "string"}, {Name: "score", Type: "double"}}, nil
	default:
		return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("тип ключа %q не имеет табличной раскладки", keyType)}
	}
}

func (a *Adapter) fetchRows(ctx context.Context, key, keyType string) ([][]string, error) {
	switch keyType {
	case "string":
		v, err := a.client.Get(ctx, key).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		return [][]string{{v}}, nil

	case "hash":
		m, err := a.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		fields := make([]string, 0, len(m))
		for f := range m {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		rows := make([][]string, 0, len(m))
		for _, f := range fields {
			rows = append(rows, []string{f, m[f]})
		}
		return rows, nil

	case "list":
		vals, err := a.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		rows := make([][]string, 0, len(vals))
		for i, v := range vals {
			rows = append(rows, []string{strconv.Itoa(i), v})
		}
		return rows, nil

	case "set":
		vals, err := a.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		// SMEMBERS не упорядочен; сортируем для стабильной нумерации
		sort.Strings(vals)
		rows := make([][]string, 0, len(vals))
		for i, v := range vals {
			rows = append(rows, []string{strconv.Itoa(i), v})
		}
		return rows, nil

	case "zset":
		zs, err := a.client.ZRangeWithScores(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		rows := make([][]string, 0, len(zs))
		for i, z := range zs {
			rows = append(rows, []string{
				strconv.Itoa(i),
				fmt.Sprintf("%v", z.Member),
				strconv.FormatFloat(z.Score, 'f', -1, 64),
			})
		}
		return rows, nil
	}
	return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("тип ключа %q не поддерживает выборку", keyType)}
}

func identityIndex(identity tabular.RowIdentity) (int64, error) {
	s, ok := identity["index"]
	if !ok {
		return 0, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("идентичность строки list задается колонкой index")}
	}
	idx, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &dberr.CastError{Type: "int", Value: s}
	}
	return idx, nil
}

func affected(n int64) *tabular.RowsResult {
	return &tabular.RowsResult{
		Columns: []tabular.Column{{Name: "rows_affected", Type: "int"}},
		Rows:    [][]string{{strconv.FormatInt(n, 10)}},
	}
}
