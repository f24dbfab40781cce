// Package mockdata - генератор тестовых данных для таблиц.
// Значения подбираются по имени колонки и семейству типа; ограничения
// колонок учитываются, автогенерируемые колонки пропускаются.
// Таблицы с внешними ключами отклоняются до генерации: синтетические
// значения не могут удовлетворить ссылочную целостность.
package mockdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/cast"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
)

// MaxRows - верхняя граница генерации за один вызов; запросы больше
// молча ограничиваются этим значением
const MaxRows = 200

// Options - параметры генерации
type Options struct {
	Rows int
	// Overwrite - очистить таблицу перед генерацией; требует
	// подтверждения на уровне API
	Overwrite bool
	// Seed - фиксирует генератор для воспроизводимых данных; 0 - случайно
	Seed uint64
}

// Generator наполняет таблицы синтетическими данными
type Generator struct {
	log zerolog.Logger
}

// NewGenerator создает генератор
func NewGenerator(log zerolog.Logger) *Generator {
	return &Generator{log: log}
}

// Generate наполняет unit синтетическими строками и возвращает
// количество вставленных строк
func (g *Generator) Generate(ctx context.Context, adapter adapters.Adapter, schema, unit string, opts Options) (int, error) {
	if opts.Rows <= 0 {
		return 0, &dberr.ValidationError{Reason: dberr.ValidationNoDataRows, Detail: "запрошено ноль строк"}
	}
	rows := opts.Rows
	if rows > MaxRows {
		rows = MaxRows
	}

	inspector, ok := adapter.(adapters.ConstraintInspector)
	if !ok {
		return 0, &dberr.UnsupportedOperationError{
			Reason: fmt.Sprintf("движок %s не раскрывает ограничения, генерация невозможна", adapter.EngineType()),
		}
	}

	// pre-flight: внешние ключи делают генерацию бессмысленной
	fks, err := inspector.ForeignKeys(ctx, schema, unit)
	if err != nil {
		return 0, err
	}
	if len(fks) > 0 {
		return 0, &dberr.ConstraintError{
			Reason: fmt.Sprintf("таблица %q ссылается на %q: синтетические значения нарушат внешний ключ", unit, fks[0].ReferencedUnit),
		}
	}

	cols, err := adapter.Columns(ctx, schema, unit)
	if err != nil {
		return 0, err
	}
	constraints, err := inspector.ColumnConstraints(ctx, schema, unit)
	if err != nil {
		return 0, err
	}

	bulk, ok := adapter.(adapters.BulkInserter)
	if !ok {
		return 0, &dberr.UnsupportedOperationError{
			Reason: fmt.Sprintf("движок %s не поддерживает пакетную вставку", adapter.EngineType()),
		}
	}

	faker := gofakeit.New(opts.Seed)

	var names []string
	var plans []valuePlan
	for _, c := range cols {
		if constraints[c.Name].AutoIncr {
			continue
		}
		names = append(names, c.Name)
		plans = append(plans, planFor(c.Name, c.Type, constraints[c.Name]))
	}
	if len(names) == 0 {
		return 0, &dberr.UnsupportedOperationError{Reason: "все колонки автогенерируемые, вставлять нечего"}
	}

	data := make([][]any, rows)
	for i := range data {
		row := make([]any, len(plans))
		for j, plan := range plans {
			row[j] = plan(faker)
		}
		data[i] = row
	}

	if opts.Overwrite {
		truncator, ok := adapter.(adapters.Truncator)
		if !ok {
			return 0, &dberr.UnsupportedOperationError{
				Reason: fmt.Sprintf("движок %s не поддерживает очистку unit'а", adapter.EngineType()),
			}
		}
		if err := truncator.Truncate(ctx, schema, unit); err != nil {
			return 0, err
		}
	}

	if err := bulk.BulkInsert(ctx, schema, unit, names, data, false); err != nil {
		return 0, err
	}
	g.log.Info().Str("unit", unit).Int("rows", rows).
		Bool("overwrite", opts.Overwrite).Msg("синтетические данные сгенерированы")
	return rows, nil
}

// valuePlan - генератор значения одной колонки
type valuePlan func(*gofakeit.Faker) any

// planFor подбирает генератор: сначала по имени колонки,
// затем по семейству типа
func planFor(name, colType string, con adapters.ColumnConstraint) valuePlan {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "email"):
		return func(f *gofakeit.Faker) any { return f.Email() }
	case lower == "username" || lower == "login" || lower == "nickname":
		return func(f *gofakeit.Faker) any { return f.Username() }
	case strings.Contains(lower, "first_name") || lower == "firstname":
		return func(f *gofakeit.Faker) any { return f.FirstName() }
	case strings.Contains(lower, "last_name") || lower == "lastname" || lower == "surname":
		return func(f *gofakeit.Faker) any { return f.LastName() }
	case strings.Contains(lower, "name"):
		return func(f *gofakeit.Faker) any { return f.Name() }
	case strings.Contains(lower, "phone"):
		return func(f *gofakeit.Faker) any { return f.Phone() }
	case strings.Contains(lower, "address"):
		return func(f *gofakeit.Faker) any { return f.Address().Address }
	case strings.Contains(lower, "city"):
		return func(f *gofakeit.Faker) any { return f.City() }
	case strings.Contains(lower, "country"):
		return func(f *gofakeit.Faker) any { return f.Country() }
	case strings.Contains(lower, "company"):
		return func(f *gofakeit.Faker) any { return f.Company() }
	case strings.Contains(lower, "url") || strings.Contains(lower, "website"):
		return func(f *gofakeit.Faker) any { return f.URL() }
	case strings.Contains(lower, "uuid") || strings.Contains(lower, "guid"):
		return func(f *gofakeit.Faker) any { return f.UUID() }
	case strings.Contains(lower, "description") || strings.Contains(lower, "comment") || strings.Contains(lower, "bio"):
		return func(f *gofakeit.Faker) any { return f.Sentence(8) }
	}

	switch cast.FamilyOf(colType) {
	case cast.FamilyInteger:
		min, max := 1, 100000
		if con.CheckMin != nil {
			min = int(*con.CheckMin)
		}
		if con.CheckMax != nil {
			max = int(*con.CheckMax)
		}
		return func(f *gofakeit.Faker) any { return int64(f.Number(min, max)) }
	case cast.FamilyDecimal, cast.FamilyFloat:
		min, max := 0.0, 10000.0
		if con.CheckMin != nil {
			min = *con.CheckMin
		}
		if con.CheckMax != nil {
			max = *con.CheckMax
		}
		return func(f *gofakeit.Faker) any { return f.Float64Range(min, max) }
	case cast.FamilyBoolean:
		return func(f *gofakeit.Faker) any { return f.Bool() }
	case cast.FamilyDate:
		return func(f *gofakeit.Faker) any {
			return f.DateRange(time.Now().AddDate(-3, 0, 0), time.Now()).Format("2006-01-02")
		}
	case cast.FamilyTimestamp:
		return func(f *gofakeit.Faker) any {
			return f.DateRange(time.Now().AddDate(-3, 0, 0), time.Now()).Format("2006-01-02 15:04:05")
		}
	default:
		return func(f *gofakeit.Faker) any { return f.Word() }
	}
}
