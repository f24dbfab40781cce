package base

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/cast"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

// Catalog - движко-специфичные запросы к системному каталогу.
// Реализуется каждым конкретным SQL-адаптером (information_schema,
// PRAGMA, sys.* views).
type Catalog interface {
	// Units перечисляет таблицы схемы с описательными атрибутами
	Units(ctx context.Context, db *sql.DB, schema string) ([]tabular.StorageUnit, error)

	// Columns возвращает колонки таблицы в порядке определения
	CatalogColumns(ctx context.Context, db *sql.DB, schema, unit string) ([]tabular.Column, error)

	// PrimaryKeys возвращает колонки первичного ключа таблицы
	PrimaryKeys(ctx context.Context, db *sql.DB, schema, unit string) ([]string, error)
}

// SQLAdapter - универсальная реализация adapters.Adapter поверх database/sql.
// Конкретные адаптеры встраивают его, реализуют Connect и Catalog,
// остальные операции наследуют отсюда.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	engine  string
	catalog Catalog
	builder *SelectBuilder
	timeout time.Duration
}

// Init инициализирует адаптер открытым подключением.
// Вызывается из Connect конкретного адаптера после успешного Ping.
func (a *SQLAdapter) Init(db *sql.DB, d Dialect, engine string, cat Catalog, cfg adapters.Config) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	a.db = db
	a.dialect = d
	a.engine = engine
	a.catalog = cat
	a.builder = NewSelectBuilder(d)
	a.timeout = cfg.Timeout
}

// opCtx ограничивает операцию настроенным таймаутом.
// Нулевой таймаут означает "без ограничения".
func (a *SQLAdapter) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// DB возвращает пул подключений (для Catalog и ConstraintInspector)
func (a *SQLAdapter) DB() *sql.DB { return a.db }

// Dialect возвращает диалект движка
func (a *SQLAdapter) Dialect() Dialect { return a.dialect }

// Builder возвращает построитель запросов
func (a *SQLAdapter) Builder() *SelectBuilder { return a.builder }

// Close закрывает пул подключений
func (a *SQLAdapter) Close(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Ping проверяет доступность движка
func (a *SQLAdapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return &dberr.ConnectionError{Engine: a.engine, Err: err}
	}
	return nil
}

// Kind - все наследники работают с SQL семейством
func (a *SQLAdapter) Kind() tabular.EngineKind { return tabular.KindSQL }

// EngineType возвращает конкретный тип движка
func (a *SQLAdapter) EngineType() string { return a.engine }

// ListUnits перечисляет таблицы через системный каталог движка
func (a *SQLAdapter) ListUnits(ctx context.Context, schema string) ([]tabular.StorageUnit, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()
	return a.catalog.Units(ctx, a.db, schema)
}

// Columns возвращает колонки таблицы в стабильном порядке
func (a *SQLAdapter) Columns(ctx context.Context, schema, unit string) ([]tabular.Column, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()
	return a.catalog.CatalogColumns(ctx, a.db, schema, unit)
}

// Explore возвращает метаданные таблицы: тип, количество строк,
// затем определения колонок в порядке каталога
func (a *SQLAdapter) Explore(ctx context.Context, schema, unit string) ([]tabular.Attribute, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	cols, err := a.catalog.CatalogColumns(ctx, a.db, schema, unit)
	if err != nil {
		return nil, err
	}
	count, err := a.countRows(ctx, schema, unit, nil)
	if err != nil {
		return nil, err
	}
	attrs := []tabular.Attribute{
		{Key: "Type", Value: "table"},
		{Key: "Count", Value: fmt.Sprintf("%d", count)},
	}
	for _, c := range cols {
		attrs = append(attrs, tabular.Attribute{Key: c.Name, Value: c.Type})
	}
	return attrs, nil
}

// Query выполняет фильтрованное/сортированное/пагинированное чтение.
// Значения фильтров приходят display-строками и конвертируются в нативные
// типы по каталогу колонок до построения SQL.
func (a *SQLAdapter) Query(ctx context.Context, schema, unit string, where []tabular.WhereCondition, sortBy []tabular.SortSpec, page tabular.PageSpec) (*tabular.RowsResult, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	cols, err := a.catalog.CatalogColumns(ctx, a.db, schema, unit)
	if err != nil {
		return nil, err
	}
	typeOf := columnTypeMap(cols)

	nativeWhere, err := castWhere(where, typeOf)
	if err != nil {
		return nil, err
	}

	stmt, err := a.builder.BuildSelect(schema, unit, nativeWhere, sortBy, page)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, a.classifyError(err)
	}
	defer rows.Close()

	result, err := renderRows(rows, typeOf)
	if err != nil {
		return nil, err
	}

	total, err := a.countRows(ctx, schema, unit, nativeWhere)
	if err != nil {
		return nil, err
	}
	result.TotalCount = &total
	return result, nil
}

// Mutate выполняет одиночную мутацию в транзакции.
// Update и delete требуют чтобы идентичность разрешилась ровно в одну строку;
// иначе транзакция откатывается целиком.
func (a *SQLAdapter) Mutate(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	cols, err := a.catalog.CatalogColumns(ctx, a.db, req.Schema, req.Unit)
	if err != nil {
		return nil, err
	}
	typeOf := columnTypeMap(cols)

	values, err := castValueMap(req.Values, typeOf)
	if err != nil {
		return nil, err
	}
	identity, err := castValueMap(map[string]string(req.Identity), typeOf)
	if err != nil {
		return nil, err
	}

	var stmt *Statement
	switch req.Op {
	case tabular.OpInsert:
		stmt, err = a.builder.BuildInsert(req.Schema, req.Unit, values)
	case tabular.OpUpdate:
		stmt, err = a.builder.BuildUpdate(req.Schema, req.Unit, values, identity)
	case tabular.OpDelete:
		stmt, err = a.builder.BuildDelete(req.Schema, req.Unit, identity)
	default:
		return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("неизвестная операция мутации: %q", req.Op)}
	}
	if err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &dberr.ConnectionError{Engine: a.engine, Err: err}
	}
	res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		tx.Rollback()
		return nil, a.classifyError(err)
	}
	affected, err := res.RowsAffected()
	if err == nil && req.Op != tabular.OpInsert && affected != 1 {
		tx.Rollback()
		return nil, &dberr.ConstraintError{
			Reason: fmt.Sprintf("идентичность строки разрешилась в %d строк, ожидалась ровно 1", affected),
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, a.classifyError(err)
	}

	return affectedResult(affected), nil
}

// RawExecute выполняет произвольный SQL текст.
// Читающие операторы возвращают строки, остальные - количество
// затронутых строк. Синтаксические ошибки движка сохраняют нативный
// фрагмент сообщения.
func (a *SQLAdapter) RawExecute(ctx context.Context, query string) (*tabular.RowsResult, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("пустой запрос")}
	}

	if isReadStatement(trimmed) {
		rows, err := a.db.QueryContext(ctx, trimmed)
		if err != nil {
			return nil, a.classifyError(err)
		}
		defer rows.Close()
		return renderRows(rows, nil)
	}

	res, err := a.db.ExecContext(ctx, trimmed)
	if err != nil {
		return nil, a.classifyError(err)
	}
	affected, _ := res.RowsAffected()
	return affectedResult(affected), nil
}

// Truncate очищает таблицу (DELETE FROM работает на всех диалектах)
func (a *SQLAdapter) Truncate(ctx context.Context, schema, unit string) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if err := checkUnitIdent(schema, unit); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx, "DELETE FROM "+a.dialect.Qualified(schema, unit))
	if err != nil {
		return a.classifyError(err)
	}
	return nil
}

// BulkInsert вставляет строки в одной транзакции.
// insert: коллизия ключа откатывает всю партию.
// overwrite: конфликтующие строки заменяются UPSERT'ом диалекта;
// для MSSQL - DELETE по ключу + INSERT внутри той же транзакции.
func (a *SQLAdapter) BulkInsert(ctx context.Context, schema, unit string, columns []string, rows [][]any, overwrite bool) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var keyCols []string
	if overwrite {
		var err error
		keyCols, err = a.catalog.PrimaryKeys(ctx, a.db, schema, unit)
		if err != nil {
			return err
		}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &dberr.ConnectionError{Engine: a.engine, Err: err}
	}
	defer tx.Rollback()

	for _, row := range rows {
		if len(row) != len(columns) {
			return &dberr.ValidationError{
				Reason: dberr.ValidationRowTooWide,
				Detail: fmt.Sprintf("строка содержит %d значений при %d колонках", len(row), len(columns)),
			}
		}
		values := make(map[string]any, len(columns))
		for i, c := range columns {
			values[c] = row[i]
		}

		var stmt *Statement
		switch {
		case !overwrite:
			stmt, err = a.builder.BuildInsert(schema, unit, values)
		case a.dialect.Upsert == UpsertMerge:
			if err = a.mergeRow(ctx, tx, schema, unit, values, keyCols); err != nil {
				return err
			}
			continue
		default:
			stmt, err = a.builder.BuildUpsert(schema, unit, values, keyCols)
		}
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return a.classifyError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return a.classifyError(err)
	}
	return nil
}

// mergeRow эмулирует UPSERT для движков без него: DELETE по ключу + INSERT
func (a *SQLAdapter) mergeRow(ctx context.Context, tx *sql.Tx, schema, unit string, values map[string]any, keyCols []string) error {
	if len(keyCols) == 0 {
		return &dberr.ConstraintError{Reason: "перезапись невозможна: у таблицы нет первичного ключа"}
	}
	identity := make(map[string]any, len(keyCols))
	for _, k := range keyCols {
		v, ok := values[k]
		if !ok {
			return &dberr.ConstraintError{Reason: fmt.Sprintf("перезапись невозможна: нет значения ключевой колонки %q", k)}
		}
		identity[k] = v
	}
	del, err := a.builder.BuildDelete(schema, unit, identity)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, del.SQL, del.Args...); err != nil {
		return a.classifyError(err)
	}
	ins, err := a.builder.BuildInsert(schema, unit, values)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ins.SQL, ins.Args...); err != nil {
		return a.classifyError(err)
	}
	return nil
}

func (a *SQLAdapter) countRows(ctx context.Context, schema, unit string, where []Condition) (int, error) {
	stmt, err := a.builder.BuildCount(schema, unit, where)
	if err != nil {
		return 0, err
	}
	var count int
	if err := a.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&count); err != nil {
		return 0, a.classifyError(err)
	}
	return count, nil
}

// classifyError относит ошибку движка к таксономии ядра по тексту сообщения.
// Нативный фрагмент сообщения сохраняется через обертывание.
func (a *SQLAdapter) classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg,
		"unique constraint", "duplicate key", "duplicate entry",
		"violation of primary key", "foreign key constraint",
		"not null constraint", "cannot be null", "null value in column",
		"check constraint"):
		return &dberr.ConstraintError{Reason: "нарушение ограничения", Err: err}
	case containsAny(msg,
		"connection refused", "connection reset", "broken pipe",
		"bad connection", "server closed", "i/o timeout"):
		return &dberr.ConnectionError{Engine: a.engine, Err: err}
	default:
		return &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
}

// ========== Helpers ==========

var readPrefixes = []string{"SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "DESCRIBE", "DESC", "VALUES"}

func isReadStatement(query string) bool {
	upper := strings.ToUpper(query)
	for _, p := range readPrefixes {
		if strings.HasPrefix(upper, p+" ") || strings.HasPrefix(upper, p+"\n") || upper == p {
			return true
		}
	}
	return false
}

func columnTypeMap(cols []tabular.Column) map[string]string {
	m := make(map[string]string, len(cols))
	for _, c := range cols {
		m[c.Name] = c.Type
	}
	return m
}

// castWhere конвертирует значения условий в нативные типы по каталогу.
// LIKE-операторы всегда сравнивают текст, их значения не конвертируются.
func castWhere(where []tabular.WhereCondition, typeOf map[string]string) ([]Condition, error) {
	if len(where) == 0 {
		return nil, nil
	}
	out := make([]Condition, len(where))
	for i, c := range where {
		out[i] = Condition{Field: c.Field, Operator: c.Operator, Value: c.Value}
		switch c.Operator {
		case tabular.OpIsNull, tabular.OpIsNotNull, tabular.OpLike, tabular.OpNotLike:
			continue
		}
		colType, ok := typeOf[c.Field]
		if !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("неизвестная колонка фильтра: %q", c.Field)}
		}
		native, err := cast.ToNative(c.Value, colType)
		if err != nil {
			return nil, err
		}
		out[i].Value = native
	}
	return out, nil
}

// castValueMap конвертирует display-строки мутации в нативные типы
func castValueMap(values map[string]string, typeOf map[string]string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for name, v := range values {
		colType := typeOf[name]
		native, err := cast.ToNative(v, colType)
		if err != nil {
			return nil, err
		}
		out[name] = native
	}
	return out, nil
}

// renderRows сканирует строки результата и приводит каждое значение
// к каноническому display-представлению
func renderRows(rows *sql.Rows, typeOf map[string]string) (*tabular.RowsResult, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}

	result := &tabular.RowsResult{Rows: [][]string{}}
	for _, n := range names {
		colType := typeOf[n]
		if colType == "" {
			colType = "text"
		}
		result.Columns = append(result.Columns, tabular.Column{Name: n, Type: colType})
	}

	raw := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		row := make([]string, len(names))
		for i, v := range raw {
			row[i] = cast.ToDisplay(v, result.Columns[i].Type)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}
	return result, nil
}

func affectedResult(affected int64) *tabular.RowsResult {
	return &tabular.RowsResult{
		Columns: []tabular.Column{{Name: "rows_affected", Type: "bigint"}},
		Rows:    [][]string{{fmt.Sprintf("%d", affected)}},
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
