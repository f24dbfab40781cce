// Package sqlite - адаптер SQLite поверх modernc.org/sqlite (без cgo).
// Каталог читается из sqlite_master и PRAGMA-команд.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/adapters/base"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func init() {
	adapters.Register("sqlite", func() adapters.Adapter {
		return &Adapter{}
	})
}

// Adapter - адаптер SQLite
type Adapter struct {
	base.SQLAdapter
}

// Connect открывает файл БД и проверяет доступность
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return &dberr.ConnectionError{Engine: "sqlite", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &dberr.ConnectionError{Engine: "sqlite", Err: err}
	}
	a.Init(db, base.DialectSQLite, "sqlite", a, cfg)
	return nil
}

// ========== base.Catalog ==========

// Units перечисляет пользовательские таблицы из sqlite_master
func (a *Adapter) Units(ctx context.Context, db *sql.DB, schema string) ([]tabular.StorageUnit, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var units []tabular.StorageUnit
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+base.DialectSQLite.Quote(name)).Scan(&count); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		units = append(units, tabular.StorageUnit{
			Name: name,
			Kind: tabular.KindSQL,
			Attributes: []tabular.Attribute{
				{Key: "Type", Value: "table"},
				{Key: "Count", Value: fmt.Sprintf("%d", count)},
			},
		})
	}
	return units, rows.Err()
}

// Columns читает колонки через PRAGMA table_info
func (a *Adapter) CatalogColumns(ctx context.Context, db *sql.DB, schema, unit string) ([]tabular.Column, error) {
	info, err := tableInfo(ctx, db, unit)
	if err != nil {
		return nil, err
	}
	cols := make([]tabular.Column, 0, len(info))
	for _, ci := range info {
		cols = append(cols, tabular.Column{Name: ci.name, Type: strings.ToLower(ci.colType)})
	}
	return cols, nil
}

// PrimaryKeys возвращает колонки первичного ключа в порядке их позиции в ключе
func (a *Adapter) PrimaryKeys(ctx context.Context, db *sql.DB, schema, unit string) ([]string, error) {
	info, err := tableInfo(ctx, db, unit)
	if err != nil {
		return nil, err
	}
	// pk нумеруется с 1 в порядке следования колонок в ключе
	byPos := map[int]string{}
	max := 0
	for _, ci := range info {
		if ci.pk > 0 {
			byPos[ci.pk] = ci.name
			if ci.pk > max {
				max = ci.pk
			}
		}
	}
	keys := make([]string, 0, max)
	for i := 1; i <= max; i++ {
		keys = append(keys, byPos[i])
	}
	return keys, nil
}

// ========== adapters.ConstraintInspector ==========

// ForeignKeys читает связи через PRAGMA foreign_key_list
func (a *Adapter) ForeignKeys(ctx context.Context, schema, unit string) ([]adapters.ForeignKey, error) {
	if !base.ValidIdent(unit) {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя таблицы: %q", unit)}
	}
	rows, err := a.DB().QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, unit))
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var fks []adapters.ForeignKey
	for rows.Next() {
		var id, seq int
		var table, from, to, onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		fks = append(fks, adapters.ForeignKey{Column: from, ReferencedUnit: table, ReferencedColumn: to})
	}
	return fks, rows.Err()
}

// ColumnConstraints собирает ограничения колонок из PRAGMA table_info.
// Автоинкремент в SQLite - это одиночный INTEGER PRIMARY KEY (alias rowid).
func (a *Adapter) ColumnConstraints(ctx context.Context, schema, unit string) (map[string]adapters.ColumnConstraint, error) {
	info, err := tableInfo(ctx, a.DB(), unit)
	if err != nil {
		return nil, err
	}
	pkCount := 0
	for _, ci := range info {
		if ci.pk > 0 {
			pkCount++
		}
	}
	out := make(map[string]adapters.ColumnConstraint, len(info))
	for _, ci := range info {
		out[ci.name] = adapters.ColumnConstraint{
			NotNull:    ci.notNull || ci.pk > 0,
			PrimaryKey: ci.pk > 0,
			AutoIncr:   ci.pk == 1 && pkCount == 1 && strings.Contains(strings.ToUpper(ci.colType), "INT"),
		}
	}
	return out, nil
}

// ========== Internals ==========

type columnInfo struct {
	name    string
	colType string
	notNull bool
	pk      int
}

func tableInfo(ctx context.Context, db *sql.DB, unit string) ([]columnInfo, error) {
	if !base.ValidIdent(unit) {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя таблицы: %q", unit)}
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, unit))
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer rows.Close()

	var info []columnInfo
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		info = append(info, columnInfo{name: name, colType: colType, notNull: notNull == 1, pk: pk})
	}
	if err := rows.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}
	if len(info) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: fmt.Errorf("no such table: %s", unit)}
	}
	return info, nil
}
