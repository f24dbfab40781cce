// Package mysql - адаптер MySQL/MariaDB поверх go-sql-driver/mysql.
// Каталог читается из information_schema; схема в терминах MySQL - это база.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/adapters/base"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func init() {
	adapters.Register("mysql", func() adapters.Adapter {
		return &Adapter{}
	})
}

// Adapter - адаптер MySQL
type Adapter struct {
	base.SQLAdapter
}

// Connect открывает пул подключений и проверяет доступность
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return &dberr.ConnectionError{Engine: "mysql", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &dberr.ConnectionError{Engine: "mysql", Err: err}
	}
	a.Init(db, base.DialectMySQL, "mysql", a, cfg)
	return nil
}

// AcceptsMultiStatement - драйвер без multiStatements=true отклоняет
// несколько операторов в одном вызове; импорт обязан резать SQL и слать
// операторы по одному
func (a *Adapter) AcceptsMultiStatement() bool { return false }

// ========== base.Catalog ==========

// Units перечисляет таблицы текущей базы с оценкой числа строк
func (a *Adapter) Units(ctx context.Context, db *sql.DB, schema string) ([]tabular.StorageUnit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME, COALESCE(TABLE_ROWS, 0), COALESCE(DATA_LENGTH, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, schema)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var units []tabular.StorageUnit
	for rows.Next() {
		var name string
		var count, dataLen int64
		if err := rows.Scan(&name, &count, &dataLen); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		units = append(units, tabular.StorageUnit{
			Name: name,
			Kind: tabular.KindSQL,
			Attributes: []tabular.Attribute{
				{Key: "Type", Value: "table"},
				{Key: "Count", Value: fmt.Sprintf("%d", count)},
				{Key: "Data Size", Value: fmt.Sprintf("%d", dataLen)},
			},
		})
	}
	return units, rows.Err()
}

// Columns читает колонки из information_schema в порядке определения
func (a *Adapter) CatalogColumns(ctx context.Context, db *sql.DB, schema, unit string) ([]tabular.Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, schema, unit)
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
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: fmt.Errorf("table %q doesn't exist", unit)}
	}
	return cols, nil
}

// PrimaryKeys возвращает колонки первичного ключа в порядке позиции в ключе
func (a *Adapter) PrimaryKeys(ctx context.Context, db *sql.DB, schema, unit string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, schema, unit)
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

// ForeignKeys читает связи из KEY_COLUMN_USAGE
func (a *Adapter) ForeignKeys(ctx context.Context, schema, unit string) ([]adapters.ForeignKey, error) {
	rows, err := a.DB().QueryContext(ctx, `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL`, schema, unit)
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

// ColumnConstraints собирает NOT NULL, первичный ключ и auto_increment
func (a *Adapter) ColumnConstraints(ctx context.Context, schema, unit string) (map[string]adapters.ColumnConstraint, error) {
	rows, err := a.DB().QueryContext(ctx, `
		SELECT COLUMN_NAME,
		       IS_NULLABLE = 'NO',
		       COLUMN_KEY = 'PRI',
		       EXTRA LIKE '%auto_increment%'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?`, schema, unit)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	out := map[string]adapters.ColumnConstraint{}
	for rows.Next() {
		var name string
		var notNull, pk, auto bool
		if err := rows.Scan(&name, &notNull, &pk, &auto); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		out[name] = adapters.ColumnConstraint{NotNull: notNull, PrimaryKey: pk, AutoIncr: auto}
	}
	return out, rows.Err()
}
