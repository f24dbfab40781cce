package tabular

import "fmt"

// Operator - оператор условия фильтрации
// Конкретный синтаксис зависит от движка; адаптер транслирует сам
type Operator string

const (
	OpEq        Operator = "="
	OpNe        Operator = "!="
	OpGt        Operator = ">"
	OpGte       Operator = ">="
	OpLt        Operator = "<"
	OpLte       Operator = "<="
	OpLike      Operator = "LIKE"
	OpNotLike   Operator = "NOT LIKE"
	OpIsNull    Operator = "IS NULL"
	OpIsNotNull Operator = "IS NOT NULL"
)

// ValidOperators - фиксированный набор поддерживаемых операторов
var ValidOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpNotLike: true, OpIsNull: true, OpIsNotNull: true,
}

// WhereCondition - одно условие field/operator/value
// Список условий комбинируется семантикой AND; OR не поддерживается
type WhereCondition struct {
	Field    string
	Operator Operator
	Value    string
}

// Validate проверяет условие перед трансляцией
func (c WhereCondition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("where condition: field is required")
	}
	if !ValidOperators[c.Operator] {
		return fmt.Errorf("where condition: unsupported operator %q", c.Operator)
	}
	return nil
}

// SortDirection - направление сортировки
type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec - активная сортировка по одной колонке
type SortSpec struct {
	Column    string
	Direction SortDirection
}

// SortState отслеживает независимое трехфазное состояние сортировки по колонкам:
// none -> asc -> desc -> none. Порядок активации колонок сохраняется и
// определяет порядок в итоговом ORDER BY.
type SortState struct {
	order []string
	dirs  map[string]SortDirection
}

// NewSortState создает пустое состояние сортировки
func NewSortState() *SortState {
	return &SortState{dirs: make(map[string]SortDirection)}
}

// Toggle переключает состояние колонки по циклу и возвращает новое направление
func (s *SortState) Toggle(column string) SortDirection {
	switch s.dirs[column] {
	case SortNone:
		s.dirs[column] = SortAsc
		s.order = append(s.order, column)
	case SortAsc:
		s.dirs[column] = SortDesc
	case SortDesc:
		delete(s.dirs, column)
		for i, c := range s.order {
			if c == column {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return s.dirs[column]
}

// Specs возвращает активные сортировки в порядке активации колонок
func (s *SortState) Specs() []SortSpec {
	specs := make([]SortSpec, 0, len(s.order))
	for _, column := range s.order {
		specs = append(specs, SortSpec{Column: column, Direction: s.dirs[column]})
	}
	return specs
}

// AllowedPageSizes - фиксированный набор допустимых размеров страницы
var AllowedPageSizes = []int{1, 10, 25, 50, 100, 250, 500}

// PageSpec - спецификация страницы; offset двигается целыми страницами
type PageSpec struct {
	Size   int
	Offset int
}

// Validate проверяет размер страницы против допустимого набора
// Size == 0 означает "без пагинации" и допустим
func (p PageSpec) Validate() error {
	if p.Offset < 0 {
		return fmt.Errorf("page spec: negative offset %d", p.Offset)
	}
	if p.Size == 0 {
		return nil
	}
	for _, allowed := range AllowedPageSizes {
		if p.Size == allowed {
			return nil
		}
	}
	return fmt.Errorf("page spec: size %d is not one of %v", p.Size, AllowedPageSizes)
}
