// Package mssql - адаптер MS SQL Server поверх go-mssqldb.
// Пагинация через OFFSET/FETCH, идентификаторы в квадратных скобках.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/adapters/base"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func init() {
	adapters.Register("mssql", func() adapters.Adapter {
		return &Adapter{}
	})
}

// Adapter - адаптер MS SQL Server
type Adapter struct {
	base.SQLAdapter
	defaultSchema string
}

// Connect открывает пул подключений и проверяет доступность
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return &dberr.ConnectionError{Engine: "mssql", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &dberr.ConnectionError{Engine: "mssql", Err: err}
	}
	a.defaultSchema = cfg.Schema
	if a.defaultSchema == "" {
		a.defaultSchema = "dbo"
	}
	a.Init(db, base.DialectMSSQL, "mssql", a, cfg)
	return nil
}

func (a *Adapter) schemaOr(schema string) string {
	if schema == "" {
		return a.defaultSchema
	}
	return schema
}

// ========== base.Catalog ==========

// Units перечисляет таблицы схемы с числом строк из sys.partitions
func (a *Adapter) Units(ctx context.Context, db *sql.DB, schema string) ([]tabular.StorageUnit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.name, SUM(p.rows)
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		WHERE s.name = @p1
		GROUP BY t.name
		ORDER BY t.name`, a.schemaOr(schema))
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var units []tabular.StorageUnit
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		units = append(units, tabular.StorageUnit{
			Name:   name,
			Kind:   tabular.KindSQL,
			Schema: a.schemaOr(schema),
			Attributes: []tabular.Attribute{
				{Key: "Type", Value: "table"},
				{Key: "Count", Value: fmt.Sprintf("%d", count)},
			},
		})
	}
	return units, rows.Err()
}

// Columns читает колонки из information_schema в порядке определения
func (a *Adapter) CatalogColumns(ctx context.Context, db *sql.DB, schema, unit string) ([]tabular.Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, a.schemaOr(schema), unit)
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
			Err: fmt.Errorf("invalid object name '%s.%s'", a.schemaOr(schema), unit)}
	}
	return cols, nil
}

// PrimaryKeys возвращает колонки первичного ключа в порядке позиции в ключе
func (a *Adapter) PrimaryKeys(ctx context.Context, db *sql.DB, schema, unit string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2 AND tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		ORDER BY kcu.ORDINAL_POSITION`, a.schemaOr(schema), unit)
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

// ForeignKeys читает связи из sys.foreign_key_columns
func (a *Adapter) ForeignKeys(ctx context.Context, schema, unit string) ([]adapters.ForeignKey, error) {
	rows, err := a.DB().QueryContext(ctx, `
		SELECT cp.name, tr.name, cr.name
		FROM sys.foreign_key_columns fkc
		JOIN sys.tables tp ON tp.object_id = fkc.parent_object_id
		JOIN sys.schemas sp ON sp.schema_id = tp.schema_id
		JOIN sys.columns cp ON cp.object_id = fkc.parent_object_id AND cp.column_id = fkc.parent_column_id
		JOIN sys.tables tr ON tr.object_id = fkc.referenced_object_id
		JOIN sys.columns cr ON cr.object_id = fkc.referenced_object_id AND cr.column_id = fkc.referenced_column_id
		WHERE sp.name = @p1 AND tp.name = @p2`, a.schemaOr(schema), unit)
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

// ColumnConstraints собирает NOT NULL, первичный ключ и identity-колонки
func (a *Adapter) ColumnConstraints(ctx context.Context, schema, unit string) (map[string]adapters.ColumnConstraint, error) {
	rows, err := a.DB().QueryContext(ctx, `
		SELECT c.name, c.is_nullable ^ 1, c.is_identity
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @p1 AND t.name = @p2`, a.schemaOr(schema), unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	out := map[string]adapters.ColumnConstraint{}
	for rows.Next() {
		var name string
		var notNull, identity bool
		if err := rows.Scan(&name, &notNull, &identity); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		out[name] = adapters.ColumnConstraint{NotNull: notNull, AutoIncr: identity}
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
	return out, nil
}
