package tabular

// EngineKind - семейство движка хранения
type EngineKind string

const (
	KindSQL      EngineKind = "sql"      // реляционные СУБД (PostgreSQL, MySQL, SQLite, MS SQL)
	KindDocument EngineKind = "document" // документные хранилища (MongoDB)
	KindKeyValue EngineKind = "keyvalue" // key-value хранилища (Redis)
)

// Attribute - упорядоченная пара (ключ, значение) для метаданных unit'а
// Порядок атрибутов значим и стабилен между запросами
type Attribute struct {
	Key   string
	Value string
}

// StorageUnit - единица хранения: таблица, коллекция или ключ
// Создается при перечислении адаптером; неизменяема в рамках запроса
type StorageUnit struct {
	// Name - имя таблицы/коллекции/ключа
	Name string

	// Kind - семейство движка, владеющего unit'ом
	Kind EngineKind

	// Schema - схема БД (только для SQL семейства, "" для остальных)
	Schema string

	// Attributes - описательные метаданные (Type, Count, определения колонок)
	Attributes []Attribute
}

// Column - колонка результата с нативным тегом типа движка
type Column struct {
	Name string
	Type string // нативный тип: "bigint", "text", "hash-field", "zset-score" и т.д.
}

// RowsResult - универсальная форма табличного результата
// Инвариант: len(row) == len(Columns) для каждой строки
type RowsResult struct {
	Columns []Column
	Rows    [][]string

	// TotalCount - общее количество строк до пагинации (nil если движок не сообщает)
	TotalCount *int

	// DisableUpdate - структура не поддерживает UPDATE (например, Redis set)
	DisableUpdate bool
}

// RowIdentity - адрес физической записи для update/delete
// SQL: колонки первичного ключа; document: _id; keyvalue: key/field/index
type RowIdentity map[string]string

// MutationOp - вид мутации
type MutationOp string

const (
	OpInsert MutationOp = "insert"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// MutationRequest - запрос одиночной мутации
// Пустой Identity означает insert
type MutationRequest struct {
	Schema   string
	Unit     string
	Op       MutationOp
	Identity RowIdentity
	Values   map[string]string
}

// GetAttribute возвращает значение атрибута по ключу ("" если отсутствует)
func (u *StorageUnit) GetAttribute(key string) string {
	for _, attr := range u.Attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}
