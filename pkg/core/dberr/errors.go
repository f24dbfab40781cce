// Package dberr определяет типизированную таксономию ошибок ядра.
// Ядро никогда не глотает и не понижает ошибку: каждый сбой возвращается
// вызывающему как одна из этих ошибок, с сохранением нативного фрагмента
// сообщения движка где он есть. Ретраев внутри ядра нет.
package dberr

import "fmt"

// ConnectionError - движок недоступен; фатально для запроса
type ConnectionError struct {
	Engine string // "postgres", "redis", ...
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Engine, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Стадии жизненного цикла запроса для QuerySyntaxError.Stage
const (
	StageBuilt      = "built"      // построение SQL/фильтра из условий
	StageTranslated = "translated" // трансляция под диалект движка
	StageExecuted   = "executed"   // выполнение движком
	StageRendered   = "rendered"   // приведение результата к строковому виду
)

// QuerySyntaxError - некорректный фильтр или SQL; восстановимо
// Нативный фрагмент сообщения движка сохраняется (например "no such table: x")
type QuerySyntaxError struct {
	Stage string // стадия жизненного цикла запроса: built/translated/executed/rendered
	Err   error
}

func (e *QuerySyntaxError) Error() string {
	return fmt.Sprintf("query failed at stage %q: %v", e.Stage, e.Err)
}

func (e *QuerySyntaxError) Unwrap() error { return e.Err }

// CastError - текст не конвертируется в целевой тип колонки
// Мутация отклоняется до вызова адаптера, частичных записей не бывает
type CastError struct {
	Type  string // целевой нативный тип
	Value string // исходное значение
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %q to type %s", e.Value, e.Type)
}

// UnsupportedOperationError - операция не имеет смысла для движка/структуры
// (update члена set, mock-данные для таблицы с внешними ключами)
type UnsupportedOperationError struct {
	Reason string
}

func (e *UnsupportedOperationError) Error() string { return e.Reason }

// ConstraintError - нарушение ограничения: коллизия первичного ключа,
// нарушение внешнего ключа, NOT NULL
type ConstraintError struct {
	Reason string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// ValidationError - проблема формы импортируемого файла
// Reason - машиночитаемый код, Detail - человекочитаемое уточнение
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason
}

// Коды причин валидации импорта
const (
	ValidationDuplicateHeader = "import: duplicate header name"
	ValidationEmptyHeader     = "import: empty header name"
	ValidationRowTooWide      = "import: row has more fields than headers"
	ValidationNoDataRows      = "import: file contains headers but no data rows"
	ValidationUnknownFormat   = "import: unrecognized file format"
	ValidationEmptyPayload    = "import: empty payload"
	ValidationPayloadTooBig   = "import: payload exceeds the size limit"
	ValidationMultiStatement  = "import: engine does not accept multi-statement SQL"
	ValidationNotCommittable  = "import: job is not in a committable state"
)
