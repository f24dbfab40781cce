// Package base содержит общую инфраструктуру для SQL-адаптеров:
// диалекты, построитель запросов и универсальный адаптер поверх database/sql.
package base

import (
	"fmt"
	"regexp"
	"strings"
)

// PlaceholderStyle - стиль параметров в SQL
type PlaceholderStyle int

const (
	// PlaceholderQuestion - "?" (MySQL, SQLite)
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar - "$1", "$2" (PostgreSQL)
	PlaceholderDollar
	// PlaceholderAt - "@p1", "@p2" (MS SQL Server)
	PlaceholderAt
)

// UpsertStyle - синтаксис UPSERT для конкретного движка
type UpsertStyle int

const (
	// UpsertOnConflict - ON CONFLICT (...) DO UPDATE (PostgreSQL, SQLite)
	UpsertOnConflict UpsertStyle = iota
	// UpsertOnDuplicate - ON DUPLICATE KEY UPDATE (MySQL)
	UpsertOnDuplicate
	// UpsertMerge - MERGE отсутствует в построителе, замена через DELETE+INSERT (MSSQL)
	UpsertMerge
)

// Dialect описывает синтаксические особенности SQL-движка:
// квотирование идентификаторов, стиль плейсхолдеров, пагинацию.
type Dialect struct {
	Engine      string
	QuoteOpen   string
	QuoteClose  string
	Placeholder PlaceholderStyle
	// OffsetFetch - true для MSSQL: OFFSET n ROWS FETCH NEXT m ROWS ONLY
	// вместо LIMIT m OFFSET n
	OffsetFetch bool
	Upsert      UpsertStyle
}

// Предопределенные диалекты поддерживаемых движков
var (
	DialectPostgres = Dialect{Engine: "postgres", QuoteOpen: `"`, QuoteClose: `"`, Placeholder: PlaceholderDollar, Upsert: UpsertOnConflict}
	DialectMySQL    = Dialect{Engine: "mysql", QuoteOpen: "`", QuoteClose: "`", Placeholder: PlaceholderQuestion, Upsert: UpsertOnDuplicate}
	DialectSQLite   = Dialect{Engine: "sqlite", QuoteOpen: `"`, QuoteClose: `"`, Placeholder: PlaceholderQuestion, Upsert: UpsertOnConflict}
	DialectMSSQL    = Dialect{Engine: "mssql", QuoteOpen: "[", QuoteClose: "]", Placeholder: PlaceholderAt, OffsetFetch: true, Upsert: UpsertMerge}
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidIdent проверяет что идентификатор безопасен для квотирования.
// Имена таблиц и колонок приходят из каталога БД или от клиента,
// поэтому произвольные символы отклоняются до построения SQL.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// Quote квотирует идентификатор в стиле диалекта
func (d Dialect) Quote(ident string) string {
	return d.QuoteOpen + ident + d.QuoteClose
}

// Qualified возвращает полное имя таблицы: schema.table или table
func (d Dialect) Qualified(schema, table string) string {
	if schema == "" {
		return d.Quote(table)
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

// Param возвращает плейсхолдер для параметра с номером n (нумерация с 1)
func (d Dialect) Param(n int) string {
	switch d.Placeholder {
	case PlaceholderDollar:
		return fmt.Sprintf("$%d", n)
	case PlaceholderAt:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// Paging возвращает SQL-фрагмент пагинации.
// Для OFFSET/FETCH (MSSQL) требуется ORDER BY, поэтому при его
// отсутствии добавляется детерминированный ORDER BY (SELECT NULL).
func (d Dialect) Paging(limit, offset int, hasOrderBy bool) string {
	if limit <= 0 {
		return ""
	}
	if d.OffsetFetch {
		var sb strings.Builder
		if !hasOrderBy {
			sb.WriteString(" ORDER BY (SELECT NULL)")
		}
		fmt.Fprintf(&sb, " OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
		return sb.String()
	}
	if offset > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}
