// Package postgres - адаптер PostgreSQL поверх pgx (database/sql режим).
// Каталог читается из information_schema и pg_catalog.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/adapters/base"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func init() {
	adapters.Register("postgres", func() adapters.Adapter {
		return &Adapter{}
	})
}

// Adapter - адаптер PostgreSQL
type Adapter struct {
	base.SQLAdapter
	defaultSchema string
}

// Connect открывает пул подключений и проверяет доступность
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return &dberr.ConnectionError{Engine: "postgres", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &dberr.ConnectionError{Engine: "postgres", Err: err}
	}
	a.defaultSchema = cfg.Schema
	if a.defaultSchema == "" {
		a.defaultSchema = "public"
	}
	a.Init(db, base.DialectPostgres, "postgres", a, cfg)
	return nil
}

func (a *Adapter) schemaOr(schema string) string {
	if schema == "" {
		return a.defaultSchema
	}
	return schema
}

// ========== base.Catalog ==========

// Units перечисляет таблицы схемы с оценкой числа строк из pg_class
// и полным размером отношения
func (a *Adapter) Units(ctx context.Context, db *sql.DB, schema string) ([]tabular.StorageUnit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.relname,
		       GREATEST(c.reltuples::bigint, 0),
		       pg_size_pretty(pg_total_relation_size(c.oid))
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind = 'r'
		ORDER BY c.relname`, a.schemaOr(schema))
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var units []tabular.StorageUnit
	for rows.Next() {
		var name, size string
		var tuples int64
		if err := rows.Scan(&name, &tuples, &size); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		units = append(units, tabular.StorageUnit{
			Name:   name,
			Kind:   tabular.KindSQL,
			Schema: a.schemaOr(schema),
			Attributes: []tabular.Attribute{
				{Key: "Type", Value: "table"},
				{Key: "Count", Value: fmt.Sprintf("%d", tuples)},
				{Key: "Total Size", Value: size},
			},
		})
	}
	return units, rows.Err()
}

// Columns читает колонки из information_schema в порядке ordinal_position
func (a *Adapter) CatalogColumns(ctx context.Context, db *sql.DB, schema, unit string) ([]tabular.Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, a.schemaOr(schema), unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var cols []tabular.Column
	for rows.Next() {
		var c tabular.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}
	if len(cols) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted,
			Err: fmt.Errorf("relation %q.%q does not exist", a.schemaOr(schema), unit)}
	}
	return cols, nil
}

// PrimaryKeys возвращает колонки первичного ключа в порядке позиции в ключе
func (a *Adapter) PrimaryKeys(ctx context.Context, db *sql.DB, schema, unit string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`, a.schemaOr(schema), unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ========== adapters.ConstraintInspector ==========

// ForeignKeys читает связи внешних ключей из information_schema
func (a *Adapter) ForeignKeys(ctx context.Context, schema, unit string) ([]adapters.ForeignKey, error) {
	rows, err := a.DB().QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'FOREIGN KEY'`,
		a.schemaOr(schema), unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var fks []adapters.ForeignKey
	for rows.Next() {
		var fk adapters.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedUnit, &fk.ReferencedColumn); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

var (
	checkLowerRe = regexp.MustCompile(`>=?\s*\(?(-?\d+(?:\.\d+)?)`)
	checkUpperRe = regexp.MustCompile(`<=?\s*\(?(-?\d+(?:\.\d+)?)`)
)

// ColumnConstraints собирает NOT NULL, членство в первичном ключе,
// автогенерацию (serial/identity) и числовые границы CHECK-ограничений
func (a *Adapter) ColumnConstraints(ctx context.Context, schema, unit string) (map[string]adapters.ColumnConstraint, error) {
	sch := a.schemaOr(schema)
	rows, err := a.DB().QueryContext(ctx, `
		SELECT column_name,
		       is_nullable = 'NO',
		       COALESCE(column_default, '') LIKE 'nextval(%' OR is_identity = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2`, sch, unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	out := map[string]adapters.ColumnConstraint{}
	for rows.Next() {
		var name string
		var notNull, auto bool
		if err := rows.Scan(&name, &notNull, &auto); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		out[name] = adapters.ColumnConstraint{NotNull: notNull, AutoIncr: auto}
	}
	if err := rows.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}

	pks, err := a.PrimaryKeys(ctx, a.DB(), schema, unit)
	if err != nil {
		return nil, err
	}
	for _, k := range pks {
		c := out[k]
		c.PrimaryKey = true
		c.NotNull = true
		out[k] = c
	}

	// числовые границы из CHECK: распознаются только простые формы col >= n / col <= n
	checks, err := a.DB().QueryContext(ctx, `
		SELECT ccu.column_name, cc.check_clause
		FROM information_schema.check_constraints cc
		JOIN information_schema.constraint_column_usage ccu
		  ON cc.constraint_name = ccu.constraint_name AND cc.constraint_schema = ccu.constraint_schema
		WHERE ccu.table_schema = $1 AND ccu.table_name = $2`, sch, unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer checks.Close()

	for checks.Next() {
		var col, clause string
		if err := checks.Scan(&col, &clause); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		c := out[col]
		if m := checkLowerRe.FindStringSubmatch(clause); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				c.CheckMin = &v
			}
		}
		if m := checkUpperRe.FindStringSubmatch(clause); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				c.CheckMax = &v
			}
		}
		out[col] = c
	}
	return out, checks.Err()
}
