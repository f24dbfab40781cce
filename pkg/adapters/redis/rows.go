package redis

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

// applyWhere фильтрует строки на клиенте.
// Сравнение числовое когда обе стороны разбираются как числа, иначе строковое.
func applyWhere(rows [][]string, cols []tabular.Column, where []tabular.WhereCondition) ([][]string, error) {
	if len(where) == 0 {
		return rows, nil
	}
	idx, err := columnIndex(cols, where)
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, row := range rows {
		ok := true
		for _, c := range where {
			match, err := matches(row[idx[c.Field]], c)
			if err != nil {
				return nil, err
			}
			if !match {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func columnIndex(cols []tabular.Column, where []tabular.WhereCondition) (map[string]int, error) {
	byName := map[string]int{}
	for i, c := range cols {
		byName[c.Name] = i
	}
	for _, c := range where {
		if err := c.Validate(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: err}
		}
		if _, ok := byName[c.Field]; !ok {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("неизвестная колонка фильтра: %q", c.Field)}
		}
	}
	return byName, nil
}

func matches(value string, c tabular.WhereCondition) (bool, error) {
	switch c.Operator {
	case tabular.OpIsNull:
		return value == "", nil
	case tabular.OpIsNotNull:
		return value != "", nil
	case tabular.OpLike:
		return likeMatch(c.Value, value), nil
	case tabular.OpNotLike:
		return !likeMatch(c.Value, value), nil
	}

	cmp := compareValues(value, c.Value)
	switch c.Operator {
	case tabular.OpEq:
		return cmp == 0, nil
	case tabular.OpNe:
		return cmp != 0, nil
	case tabular.OpGt:
		return cmp > 0, nil
	case tabular.OpGte:
		return cmp >= 0, nil
	case tabular.OpLt:
		return cmp < 0, nil
	case tabular.OpLte:
		return cmp <= 0, nil
	}
	return false, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("оператор %q не применим на клиенте", c.Operator)}
}

// likeMatch транслирует LIKE-шаблон в glob и сравнивает без учета регистра
func likeMatch(pattern, value string) bool {
	glob := strings.ReplaceAll(pattern, "%", "*")
	glob = strings.ReplaceAll(glob, "_", "?")
	ok, err := path.Match(strings.ToLower(glob), strings.ToLower(value))
	return err == nil && ok
}

func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// applySort сортирует строки стабильно в порядке активации колонок
func applySort(rows [][]string, cols []tabular.Column, sortBy []tabular.SortSpec) error {
	if len(sortBy) == 0 {
		return nil
	}
	byName := map[string]int{}
	for i, c := range cols {
		byName[c.Name] = i
	}
	for _, s := range sortBy {
		if _, ok := byName[s.Column]; !ok {
			return &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("неизвестная колонка сортировки: %q", s.Column)}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range sortBy {
			col := byName[s.Column]
			cmp := compareValues(rows[i][col], rows[j][col])
			if cmp == 0 {
				continue
			}
			if s.Direction == tabular.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

// applyPage вырезает страницу из отфильтрованного набора
func applyPage(rows [][]string, page tabular.PageSpec) [][]string {
	if page.Size <= 0 {
		return rows
	}
	if page.Offset >= len(rows) {
		return [][]string{}
	}
	end := page.Offset + page.Size
	if end > len(rows) {
		end = len(rows)
	}
	return rows[page.Offset:end]
}
