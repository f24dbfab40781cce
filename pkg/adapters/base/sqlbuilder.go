package base

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

// Statement - готовый параметризованный SQL-оператор
type Statement struct {
	SQL  string
	Args []any
}

// Condition - условие фильтрации с уже приведенным нативным значением.
// Получается из tabular.WhereCondition после конвертации display-строки
// в нативный тип колонки.
type Condition struct {
	Field    string
	Operator tabular.Operator
	Value    any
}

// Validate проверяет условие перед построением SQL
func (c Condition) Validate() error {
	if c.Field == "" {
		return &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("пустое имя поля фильтра")}
	}
	if !tabular.ValidOperators[c.Operator] {
		return &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("неподдерживаемый оператор: %q", c.Operator)}
	}
	return nil
}

// SelectBuilder строит параметризованные SELECT-запросы для диалекта.
// Все значения фильтров передаются через плейсхолдеры, идентификаторы
// проверяются и квотируются.
type SelectBuilder struct {
	dialect Dialect
}

// NewSelectBuilder создает построитель для диалекта
func NewSelectBuilder(d Dialect) *SelectBuilder {
	return &SelectBuilder{dialect: d}
}

// BuildSelect строит SELECT с фильтрами, сортировкой и пагинацией
func (b *SelectBuilder) BuildSelect(schema, unit string, where []Condition, orderBy []tabular.SortSpec, page tabular.PageSpec) (*Statement, error) {
	if err := checkUnitIdent(schema, unit); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(b.dialect.Qualified(schema, unit))

	args, err := b.writeWhere(&sb, where, 0)
	if err != nil {
		return nil, err
	}

	hasOrder := len(orderBy) > 0
	if hasOrder {
		sb.WriteString(" ORDER BY ")
		for i, s := range orderBy {
			if !ValidIdent(s.Column) {
				return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя поля сортировки: %q", s.Column)}
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.dialect.Quote(s.Column))
			if s.Direction == tabular.SortDesc {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
		}
	}

	sb.WriteString(b.dialect.Paging(page.Size, page.Offset, hasOrder))
	return &Statement{SQL: sb.String(), Args: args}, nil
}

// BuildCount строит COUNT(*) с теми же фильтрами что и выборка
func (b *SelectBuilder) BuildCount(schema, unit string, where []Condition) (*Statement, error) {
	if err := checkUnitIdent(schema, unit); err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(b.dialect.Qualified(schema, unit))
	args, err := b.writeWhere(&sb, where, 0)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: sb.String(), Args: args}, nil
}

// BuildInsert строит INSERT одной строки.
// Колонки упорядочиваются детерминированно.
func (b *SelectBuilder) BuildInsert(schema, unit string, values map[string]any) (*Statement, error) {
	if err := checkUnitIdent(schema, unit); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("нет значений для вставки")}
	}
	cols := sortedKeys(values)
	var names, holders []string
	var args []any
	for i, c := range cols {
		if !ValidIdent(c) {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя колонки: %q", c)}
		}
		names = append(names, b.dialect.Quote(c))
		holders = append(holders, b.dialect.Param(i+1))
		args = append(args, values[c])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.dialect.Qualified(schema, unit), strings.Join(names, ", "), strings.Join(holders, ", "))
	return &Statement{SQL: sql, Args: args}, nil
}

// BuildUpdate строит UPDATE по идентичности строки.
// Identity задается первичным ключом либо полным набором прежних значений.
func (b *SelectBuilder) BuildUpdate(schema, unit string, values map[string]any, identity map[string]any) (*Statement, error) {
	if err := checkUnitIdent(schema, unit); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("нет значений для обновления")}
	}
	if len(identity) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("пустая идентичность строки")}
	}

	var sb strings.Builder
	var args []any
	n := 0

	sb.WriteString("UPDATE ")
	sb.WriteString(b.dialect.Qualified(schema, unit))
	sb.WriteString(" SET ")
	for i, c := range sortedKeys(values) {
		if !ValidIdent(c) {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя колонки: %q", c)}
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n++
		sb.WriteString(b.dialect.Quote(c))
		sb.WriteString(" = ")
		sb.WriteString(b.dialect.Param(n))
		args = append(args, values[c])
	}

	whereArgs, err := b.writeIdentity(&sb, identity, n)
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)
	return &Statement{SQL: sb.String(), Args: args}, nil
}

// BuildDelete строит DELETE по идентичности строки
func (b *SelectBuilder) BuildDelete(schema, unit string, identity map[string]any) (*Statement, error) {
	if err := checkUnitIdent(schema, unit); err != nil {
		return nil, err
	}
	if len(identity) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("пустая идентичность строки")}
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.dialect.Qualified(schema, unit))
	args, err := b.writeIdentity(&sb, identity, 0)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: sb.String(), Args: args}, nil
}

// BuildUpsert строит INSERT с обновлением при конфликте по ключевым колонкам.
// Для MSSQL (UpsertMerge) возвращает ошибку - вызывающий код использует
// DELETE+INSERT в транзакции.
func (b *SelectBuilder) BuildUpsert(schema, unit string, values map[string]any, keyCols []string) (*Statement, error) {
	ins, err := b.BuildInsert(schema, unit, values)
	if err != nil {
		return nil, err
	}
	cols := sortedKeys(values)

	switch b.dialect.Upsert {
	case UpsertOnConflict:
		var keys, sets []string
		for _, k := range keyCols {
			if !ValidIdent(k) {
				return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя ключа: %q", k)}
			}
			keys = append(keys, b.dialect.Quote(k))
		}
		for _, c := range cols {
			if contains(keyCols, c) {
				continue
			}
			q := b.dialect.Quote(c)
			sets = append(sets, q+" = excluded."+q)
		}
		if len(sets) == 0 {
			ins.SQL += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
		} else {
			ins.SQL += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
		}
		return ins, nil

	case UpsertOnDuplicate:
		var sets []string
		for _, c := range cols {
			if contains(keyCols, c) {
				continue
			}
			q := b.dialect.Quote(c)
			sets = append(sets, q+" = VALUES("+q+")")
		}
		if len(sets) == 0 {
			ins.SQL = strings.Replace(ins.SQL, "INSERT INTO", "INSERT IGNORE INTO", 1)
		} else {
			ins.SQL += " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		}
		return ins, nil

	default:
		return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("UPSERT не поддерживается построителем для %s", b.dialect.Engine)}
	}
}

// writeWhere пишет WHERE-фрагмент (условия объединяются через AND)
// и возвращает накопленные аргументы. startN - количество уже занятых плейсхолдеров.
func (b *SelectBuilder) writeWhere(sb *strings.Builder, where []Condition, startN int) ([]any, error) {
	if len(where) == 0 {
		return nil, nil
	}
	var args []any
	n := startN
	sb.WriteString(" WHERE ")
	for i, c := range where {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if !ValidIdent(c.Field) {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя поля фильтра: %q", c.Field)}
		}
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(b.dialect.Quote(c.Field))
		sb.WriteString(" ")
		sb.WriteString(string(c.Operator))
		if c.Operator != tabular.OpIsNull && c.Operator != tabular.OpIsNotNull {
			n++
			sb.WriteString(" ")
			sb.WriteString(b.dialect.Param(n))
			args = append(args, c.Value)
		}
	}
	return args, nil
}

// writeIdentity пишет WHERE-фрагмент точного совпадения всех полей идентичности.
// NULL-значения сравниваются через IS NULL.
func (b *SelectBuilder) writeIdentity(sb *strings.Builder, identity map[string]any, startN int) ([]any, error) {
	var args []any
	n := startN
	sb.WriteString(" WHERE ")
	for i, c := range sortedKeys(identity) {
		if !ValidIdent(c) {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя колонки идентичности: %q", c)}
		}
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(b.dialect.Quote(c))
		if identity[c] == nil {
			sb.WriteString(" IS NULL")
			continue
		}
		n++
		sb.WriteString(" = ")
		sb.WriteString(b.dialect.Param(n))
		args = append(args, identity[c])
	}
	return args, nil
}

func checkUnitIdent(schema, unit string) error {
	if schema != "" && !ValidIdent(schema) {
		return &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя схемы: %q", schema)}
	}
	if !ValidIdent(unit) {
		return &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("недопустимое имя таблицы: %q", unit)}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
