// Package cast выполняет двунаправленную конвертацию между текстом,
// введенным пользователем, и нативными типами колонок движка, а также
// рендеринг нативных значений БД в канонические display-строки.
//
// Канонический формат строки на тип - контракт адаптера: цикл
// ADD -> READ -> UPDATE -> READ обязан воспроизводить одну и ту же
// display-строку для одного и того же логического значения.
package cast

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ruslano69/dbxray/pkg/core/dberr"
)

// Family - нормализованное семейство нативного типа колонки
type Family string

const (
	FamilyInteger   Family = "integer"  // bigint, int, smallint, serial, int8...
	FamilyDecimal   Family = "decimal"  // numeric, decimal - точность без потерь
	FamilyFloat     Family = "float"    // real, double precision
	FamilyBoolean   Family = "boolean"
	FamilyText      Family = "text"     // text, varchar, char, uuid, json
	FamilyDate      Family = "date"
	FamilyTimestamp Family = "timestamp"
	FamilyBinary    Family = "binary"   // bytea, blob, varbinary
)

var integerTypes = map[string]bool{
	"BIGINT": true, "INT8": true, "INTEGER": true, "INT": true, "INT4": true,
	"SMALLINT": true, "INT2": true, "TINYINT": true, "MEDIUMINT": true,
	"SERIAL": true, "BIGSERIAL": true, "SMALLSERIAL": true,
}

var decimalTypes = map[string]bool{
	"NUMERIC": true, "DECIMAL": true, "MONEY": true,
}

var floatTypes = map[string]bool{
	"REAL": true, "FLOAT": true, "FLOAT4": true, "FLOAT8": true,
	"DOUBLE": true, "DOUBLE PRECISION": true,
}

var booleanTypes = map[string]bool{
	"BOOLEAN": true, "BOOL": true, "BIT": true,
}

var dateTypes = map[string]bool{
	"DATE": true,
}

var timestampTypes = map[string]bool{
	"TIMESTAMP": true, "TIMESTAMPTZ": true, "DATETIME": true, "DATETIME2": true,
	"TIMESTAMP WITH TIME ZONE": true, "TIMESTAMP WITHOUT TIME ZONE": true,
	"SMALLDATETIME": true,
}

var binaryTypes = map[string]bool{
	"BYTEA": true, "BLOB": true, "VARBINARY": true, "BINARY": true,
	"LONGBLOB": true, "MEDIUMBLOB": true, "TINYBLOB": true,
}

// Форматы времени, принимаемые при вводе (канонический - первый)
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// FamilyOf нормализует нативный тег типа в семейство
// Размерности вида VARCHAR(255) и NUMERIC(10,2) отбрасываются
func FamilyOf(columnType string) Family {
	upper := strings.ToUpper(strings.TrimSpace(columnType))
	if idx := strings.Index(upper, "("); idx > 0 {
		upper = strings.TrimSpace(upper[:idx])
	}

	switch {
	case integerTypes[upper]:
		return FamilyInteger
	case decimalTypes[upper]:
		return FamilyDecimal
	case floatTypes[upper]:
		return FamilyFloat
	case booleanTypes[upper]:
		return FamilyBoolean
	case dateTypes[upper]:
		return FamilyDate
	case timestampTypes[upper]:
		return FamilyTimestamp
	case binaryTypes[upper]:
		return FamilyBinary
	default:
		return FamilyText
	}
}

// ToNative конвертирует display-строку в нативное значение для драйвера.
// Пустая строка означает NULL для всех семейств кроме текстового.
// Ошибка конвертации - *dberr.CastError; мутация обязана быть отклонена
// до вызова нативной записи.
func ToNative(value string, columnType string) (any, error) {
	family := FamilyOf(columnType)

	if value == "" && family != FamilyText {
		return nil, nil
	}

	switch family {
	case FamilyInteger:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, &dberr.CastError{Type: columnType, Value: value}
		}
		return n, nil

	case FamilyDecimal:
		// NUMERIC/DECIMAL передаем строкой: парсинг в float теряет точность
		if _, err := parseDecimal(value); err != nil {
			return nil, &dberr.CastError{Type: columnType, Value: value}
		}
		return value, nil

	case FamilyFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, &dberr.CastError{Type: columnType, Value: value}
		}
		return f, nil

	case FamilyBoolean:
		switch strings.ToLower(value) {
		case "true", "t", "1":
			return true, nil
		case "false", "f", "0":
			return false, nil
		}
		return nil, &dberr.CastError{Type: columnType, Value: value}

	case FamilyDate:
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return nil, &dberr.CastError{Type: columnType, Value: value}
		}
		return t, nil

	case FamilyTimestamp:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
		}
		return nil, &dberr.CastError{Type: columnType, Value: value}

	case FamilyBinary:
		b, err := decodeHex(value)
		if err != nil {
			return nil, &dberr.CastError{Type: columnType, Value: value}
		}
		return b, nil

	default:
		return value, nil
	}
}

// ToDisplay рендерит нативное значение БД в каноническую display-строку.
// NULL рендерится пустой строкой.
func ToDisplay(value any, columnType string) string {
	if value == nil {
		return ""
	}

	family := FamilyOf(columnType)

	switch v := value.(type) {
	case []byte:
		if family == FamilyBinary {
			return fmt.Sprintf("%X", v)
		}
		// Драйверы mysql/sqlite отдают числа и текст как []byte
		return normalizeDisplay(string(v), family)

	case string:
		return normalizeDisplay(v, family)

	case int64:
		return strconv.FormatInt(v, 10)

	case int, int8, int16, int32:
		return fmt.Sprintf("%d", v)

	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)

	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)

	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)

	case bool:
		if v {
			return "true"
		}
		return "false"

	case time.Time:
		if family == FamilyDate {
			return v.Format(dateLayout)
		}
		return v.Format(timestampLayout)

	case map[string]any:
		raw, _ := json.Marshal(v)
		return string(raw)

	case []any:
		raw, _ := json.Marshal(v)
		return string(raw)

	default:
		if s, ok := value.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", v)
	}
}

// normalizeDisplay приводит строковое значение из драйвера к каноническому виду
// Для булевых колонок mysql/sqlite "1"/"0" превращаются в "true"/"false"
func normalizeDisplay(s string, family Family) string {
	switch family {
	case FamilyBoolean:
		switch s {
		case "1", "t", "true":
			return "true"
		case "0", "f", "false":
			return "false"
		}
	case FamilyTimestamp:
		// Часть драйверов отдает RFC3339; канонический формат - с пробелом
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Format(timestampLayout)
		}
	}
	return s
}

// parseDecimal валидирует десятичную строку без потери точности
// (знак, цифры, не более одной точки)
func parseDecimal(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("empty decimal")
	}

	body := strings.TrimPrefix(strings.TrimPrefix(trimmed, "-"), "+")
	if body == "" || body == "." {
		return "", fmt.Errorf("malformed decimal %q", s)
	}

	dots := 0
	for _, r := range body {
		if r == '.' {
			dots++
			if dots > 1 {
				return "", fmt.Errorf("malformed decimal %q", s)
			}
			continue
		}
		if r < '0' || r > '9' {
			return "", fmt.Errorf("malformed decimal %q", s)
		}
	}
	return trimmed, nil
}

// decodeHex парсит hex-строку (с опциональным префиксом 0x) в байты
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
