// Package exporter - выгрузка табличных данных в CSV и Excel.
// Источник - либо полная выборка unit'а с текущими фильтрами и сортировками,
// либо явно выбранные строки. Пагинация на выгрузку не действует.
package exporter

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

// Format - формат выгрузки
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// Options - параметры выгрузки
type Options struct {
	Format Format
	// Delimiter - разделитель CSV; по умолчанию запятая
	Delimiter rune
	// Compress - обернуть результат в zstd-поток (только CSV)
	Compress bool
	// SelectedRows - явный поднабор строк; nil означает полную выборку
	SelectedRows [][]string
	// Where и Sort действуют только при полной выборке
	Where []tabular.WhereCondition
	Sort  []tabular.SortSpec
}

// Exporter выгружает данные unit'а через адаптер
type Exporter struct {
	log zerolog.Logger
}

// NewExporter создает выгрузчик
func NewExporter(log zerolog.Logger) *Exporter {
	return &Exporter{log: log}
}

// Export пишет данные unit'а в w в выбранном формате.
// SelectedRows выгружаются как есть; иначе выполняется полная выборка
// с текущими фильтрами и сортировками, без пагинации.
func (e *Exporter) Export(ctx context.Context, adapter adapters.Adapter, schema, unit string, opts Options, w io.Writer) error {
	var cols []tabular.Column
	var rows [][]string

	if opts.SelectedRows != nil {
		var err error
		cols, err = adapter.Columns(ctx, schema, unit)
		if err != nil {
			return err
		}
		rows = opts.SelectedRows
	} else {
		res, err := adapter.Query(ctx, schema, unit, opts.Where, opts.Sort, tabular.PageSpec{})
		if err != nil {
			return err
		}
		cols, rows = res.Columns, res.Rows
	}

	switch opts.Format {
	case FormatCSV:
		if opts.Compress {
			zw, err := zstd.NewWriter(w)
			if err != nil {
				return fmt.Errorf("zstd writer: %w", err)
			}
			if err := writeCSV(zw, cols, rows, opts.Delimiter); err != nil {
				zw.Close()
				return err
			}
			return zw.Close()
		}
		err := writeCSV(w, cols, rows, opts.Delimiter)
		if err == nil {
			e.log.Info().Str("unit", unit).Int("rows", len(rows)).Msg("выгрузка CSV завершена")
		}
		return err
	case FormatExcel:
		err := writeExcel(w, unit, cols, rows)
		if err == nil {
			e.log.Info().Str("unit", unit).Int("rows", len(rows)).Msg("выгрузка Excel завершена")
		}
		return err
	default:
		return &dberr.ValidationError{
			Reason: dberr.ValidationUnknownFormat,
			Detail: fmt.Sprintf("формат выгрузки %q не поддерживается", opts.Format),
		}
	}
}

// Filename строит имя файла выгрузки: <unit>.<расширение>
func Filename(unit string, format Format, compressed bool) string {
	safe := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, unit)
	ext := "csv"
	if format == FormatExcel {
		ext = "xlsx"
	}
	name := fmt.Sprintf("%s.%s", safe, ext)
	if compressed && format == FormatCSV {
		name += ".zst"
	}
	return name
}
