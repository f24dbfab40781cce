package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/dbxray/pkg/core/dberr"
)

// detectDelimiter выбирает разделитель CSV по первой строке файла:
// побеждает самый частый из запятой, точки с запятой и табуляции
func detectDelimiter(payload []byte) rune {
	line := payload
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		line = payload[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte(","))
	if n := bytes.Count(line, []byte(";")); n > bestCount {
		best, bestCount = ';', n
	}
	if n := bytes.Count(line, []byte("\t")); n > bestCount {
		best = '\t'
	}
	return best
}

// parseCSV разбирает CSV: первая строка - заголовок, остальные - данные
func parseCSV(payload []byte) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	r.Comma = detectDelimiter(payload)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationEmptyPayload, Detail: "не удалось прочитать заголовок"}
	}
	if err := checkHeader(header); err != nil {
		return nil, nil, err
	}

	var rows [][]string
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// encoding/csv сообщает о несовпадении числа полей отдельной ошибкой
			if errors.Is(err, csv.ErrFieldCount) {
				return nil, nil, &dberr.ValidationError{
					Reason: dberr.ValidationRowTooWide,
					Detail: fmt.Sprintf("строка %d: число значений не совпадает с заголовком", line),
				}
			}
			return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationUnknownFormat, Detail: err.Error()}
		}
		rows = append(rows, row)
	}
	// файл из одного заголовка разбирается успешно; запись отклонит Validate
	return header, rows, nil
}

// parseExcel разбирает первый лист книги: первая строка - заголовок
func parseExcel(payload []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationUnknownFormat, Detail: "файл не является книгой Excel"}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationEmptyPayload, Detail: "в книге нет листов"}
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationUnknownFormat, Detail: err.Error()}
	}
	if len(all) == 0 {
		return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationEmptyPayload, Detail: "лист пуст"}
	}

	header := all[0]
	if err := checkHeader(header); err != nil {
		return nil, nil, err
	}

	var rows [][]string
	for i, src := range all[1:] {
		if len(src) > len(header) {
			return nil, nil, &dberr.ValidationError{
				Reason: dberr.ValidationRowTooWide,
				Detail: fmt.Sprintf("строка %d: %d значений при %d колонках заголовка", i+2, len(src), len(header)),
			}
		}
		// excelize обрезает хвостовые пустые ячейки; выравниваем ширину
		row := make([]string, len(header))
		copy(row, src)
		rows = append(rows, row)
	}
	return header, rows, nil
}

// checkHeader отклоняет пустые и повторяющиеся имена колонок
func checkHeader(header []string) error {
	seen := map[string]int{}
	for i, name := range header {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return &dberr.ValidationError{
				Reason: dberr.ValidationEmptyHeader,
				Detail: fmt.Sprintf("колонка %d заголовка пустая", i+1),
			}
		}
		if prev, ok := seen[trimmed]; ok {
			return &dberr.ValidationError{
				Reason: dberr.ValidationDuplicateHeader,
				Detail: fmt.Sprintf("имя %q повторяется в колонках %d и %d", trimmed, prev+1, i+1),
			}
		}
		seen[trimmed] = i
	}
	return nil
}
