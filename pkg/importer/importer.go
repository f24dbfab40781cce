// Package importer - конвейер импорта табличных данных и SQL-скриптов.
// Загрузка проходит состояния Uploaded -> Parsed -> Previewed -> Validated ->
// Committed; любая проверка может перевести задание в Rejected с
// типизированной причиной. Отклоненное задание не трогает движок.
package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/cast"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
)

// Format - формат загруженного файла
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatSQL   Format = "sql"
)

// State - состояние задания импорта
type State string

const (
	StateUploaded  State = "uploaded"
	StateParsed    State = "parsed"
	StatePreviewed State = "previewed"
	StateValidated State = "validated"
	StateCommitted State = "committed"
	StateRejected  State = "rejected"
)

// Job - задание импорта. ID - отпечаток содержимого файла,
// повторная загрузка того же файла дает тот же ID.
type Job struct {
	ID       string
	Format   Format
	State    State
	Schema   string
	Unit     string
	Columns  []string
	Rows     [][]string
	// Statements заполняется только для SQL-формата
	Statements []string
	Reject     error
	CreatedAt  time.Time
}

// CommitOptions - параметры фазы записи
type CommitOptions struct {
	// Overwrite - конфликтующие строки заменяются; иначе коллизия
	// ключа откатывает всю партию
	Overwrite bool
	// ExcludeAutoGenerated - автогенерируемые колонки (serial, identity)
	// исключаются из вставки, значения назначает движок
	ExcludeAutoGenerated bool
}

// Importer управляет заданиями импорта.
// Мьютекс охраняет и карту заданий, и переходы состояний: конкурирующие
// запросы к одному заданию сериализуются целиком.
type Importer struct {
	log  zerolog.Logger
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewImporter создает конвейер импорта
func NewImporter(log zerolog.Logger) *Importer {
	return &Importer{log: log, jobs: map[string]*Job{}}
}

// Upload принимает файл, разбирает его и создает задание.
// Ошибки разбора возвращаются как *dberr.ValidationError с конкретной
// причиной; задание при этом сохраняется в состоянии Rejected.
func (im *Importer) Upload(schema, unit string, format Format, payload []byte) (*Job, error) {
	job := &Job{
		ID:        fmt.Sprintf("%016x", xxh3.Hash(payload)),
		Format:    format,
		State:     StateUploaded,
		Schema:    schema,
		Unit:      unit,
		CreatedAt: time.Now(),
	}

	err := im.parse(job, payload)
	if err != nil {
		job.State = StateRejected
		job.Reject = err
		im.store(job)
		im.log.Warn().Str("job", job.ID).Err(err).Msg("импорт отклонен на разборе")
		return job, err
	}

	job.State = StateParsed
	im.store(job)
	im.log.Info().Str("job", job.ID).Str("format", string(format)).
		Int("rows", len(job.Rows)).Msg("файл разобран")
	return job, nil
}

func (im *Importer) parse(job *Job, payload []byte) error {
	if len(payload) == 0 {
		return &dberr.ValidationError{Reason: dberr.ValidationEmptyPayload, Detail: "файл пуст"}
	}
	switch job.Format {
	case FormatCSV:
		cols, rows, err := parseCSV(payload)
		if err != nil {
			return err
		}
		job.Columns, job.Rows = cols, rows
	case FormatExcel:
		cols, rows, err := parseExcel(payload)
		if err != nil {
			return err
		}
		job.Columns, job.Rows = cols, rows
	case FormatSQL:
		stmts := SplitStatements(string(payload))
		if len(stmts) == 0 {
			return &dberr.ValidationError{Reason: dberr.ValidationEmptyPayload, Detail: "в файле нет SQL-операторов"}
		}
		job.Statements = stmts
	default:
		return &dberr.ValidationError{
			Reason: dberr.ValidationUnknownFormat,
			Detail: fmt.Sprintf("формат %q не поддерживается", job.Format),
		}
	}
	return nil
}

// Job возвращает задание по ID
func (im *Importer) Job(id string) (*Job, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	j, ok := im.jobs[id]
	return j, ok
}

// Preview возвращает до n первых строк разобранного задания
func (im *Importer) Preview(id string, n int) (*Job, [][]string, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	job, ok := im.jobs[id]
	if !ok {
		return nil, nil, &dberr.ValidationError{Reason: dberr.ValidationNotCommittable, Detail: "задание не найдено"}
	}
	if job.State != StateParsed && job.State != StatePreviewed && job.State != StateValidated {
		return nil, nil, &dberr.ValidationError{
			Reason: dberr.ValidationNotCommittable,
			Detail: fmt.Sprintf("предпросмотр из состояния %q невозможен", job.State),
		}
	}
	rows := job.Rows
	if n > 0 && n < len(rows) {
		rows = rows[:n]
	}
	if job.State == StateParsed {
		job.State = StatePreviewed
	}
	return job, rows, nil
}

// Validate проверяет задание против целевого unit'а.
// Табличные форматы: каждая колонка файла обязана существовать в таблице.
// SQL: движок, не принимающий multi-statement, отклоняет файлы с
// несколькими операторами.
func (im *Importer) Validate(ctx context.Context, id string, adapter adapters.Adapter) (*Job, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	job, ok := im.jobs[id]
	if !ok {
		return nil, &dberr.ValidationError{Reason: dberr.ValidationNotCommittable, Detail: "задание не найдено"}
	}
	if job.State == StateRejected || job.State == StateCommitted {
		return nil, &dberr.ValidationError{
			Reason: dberr.ValidationNotCommittable,
			Detail: fmt.Sprintf("валидация из состояния %q невозможна", job.State),
		}
	}

	if job.Format == FormatSQL {
		if msi, ok := adapter.(adapters.MultiStatementImporter); ok && !msi.AcceptsMultiStatement() && len(job.Statements) > 1 {
			err := &dberr.ValidationError{
				Reason: dberr.ValidationMultiStatement,
				Detail: fmt.Sprintf("движок %s не принимает %d операторов в одном импорте", adapter.EngineType(), len(job.Statements)),
			}
			job.State = StateRejected
			job.Reject = err
			return job, err
		}
		job.State = StateValidated
		return job, nil
	}

	// файл из одного заголовка разбирается, но фиксировать нечего
	if len(job.Rows) == 0 {
		err := &dberr.ValidationError{
			Reason: dberr.ValidationNoDataRows,
			Detail: "после заголовка нет ни одной строки данных",
		}
		job.State = StateRejected
		job.Reject = err
		return job, err
	}

	cols, err := adapter.Columns(ctx, job.Schema, job.Unit)
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, c := range cols {
		known[c.Name] = true
	}
	for _, c := range job.Columns {
		if !known[c] {
			err := &dberr.ValidationError{
				Reason: dberr.ValidationUnknownFormat,
				Detail: fmt.Sprintf("колонка %q отсутствует в %q", c, job.Unit),
			}
			job.State = StateRejected
			job.Reject = err
			return job, err
		}
	}
	job.State = StateValidated
	return job, nil
}

// Commit записывает провалидированное задание в движок.
// Табличные форматы идут атомарной партией через BulkInserter;
// SQL выполняется оператор за оператором через RawExecutor.
func (im *Importer) Commit(ctx context.Context, id string, adapter adapters.Adapter, opts CommitOptions) (*Job, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	job, ok := im.jobs[id]
	if !ok {
		return nil, &dberr.ValidationError{Reason: dberr.ValidationNotCommittable, Detail: "задание не найдено"}
	}
	if job.State != StateValidated {
		return nil, &dberr.ValidationError{
			Reason: dberr.ValidationNotCommittable,
			Detail: fmt.Sprintf("запись из состояния %q невозможна, требуется валидация", job.State),
		}
	}

	if job.Format == FormatSQL {
		raw, ok := adapter.(adapters.RawExecutor)
		if !ok {
			return nil, &dberr.UnsupportedOperationError{
				Reason: fmt.Sprintf("движок %s не выполняет произвольный SQL", adapter.EngineType()),
			}
		}
		for _, stmt := range job.Statements {
			if _, err := raw.RawExecute(ctx, stmt); err != nil {
				return nil, err
			}
		}
		job.State = StateCommitted
		im.log.Info().Str("job", job.ID).Int("statements", len(job.Statements)).Msg("SQL импорт применен")
		return job, nil
	}

	bulk, ok := adapter.(adapters.BulkInserter)
	if !ok {
		return nil, &dberr.UnsupportedOperationError{
			Reason: fmt.Sprintf("движок %s не поддерживает пакетную вставку", adapter.EngineType()),
		}
	}

	columns, rows, err := im.nativeRows(ctx, job, adapter, opts)
	if err != nil {
		return nil, err
	}
	if err := bulk.BulkInsert(ctx, job.Schema, job.Unit, columns, rows, opts.Overwrite); err != nil {
		return nil, err
	}
	job.State = StateCommitted
	im.log.Info().Str("job", job.ID).Int("rows", len(rows)).
		Bool("overwrite", opts.Overwrite).Msg("табличный импорт применен")
	return job, nil
}

// nativeRows конвертирует display-строки файла в нативные значения
// по типам колонок целевой таблицы
func (im *Importer) nativeRows(ctx context.Context, job *Job, adapter adapters.Adapter, opts CommitOptions) ([]string, [][]any, error) {
	cols, err := adapter.Columns(ctx, job.Schema, job.Unit)
	if err != nil {
		return nil, nil, err
	}
	typeOf := map[string]string{}
	for _, c := range cols {
		typeOf[c.Name] = c.Type
	}

	skip := map[string]bool{}
	if opts.ExcludeAutoGenerated {
		if inspector, ok := adapter.(adapters.ConstraintInspector); ok {
			constraints, err := inspector.ColumnConstraints(ctx, job.Schema, job.Unit)
			if err != nil {
				return nil, nil, err
			}
			for name, c := range constraints {
				if c.AutoIncr {
					skip[name] = true
				}
			}
		}
	}

	var columns []string
	var keep []int
	for i, c := range job.Columns {
		if skip[c] {
			continue
		}
		columns = append(columns, c)
		keep = append(keep, i)
	}

	rows := make([][]any, 0, len(job.Rows))
	for _, src := range job.Rows {
		row := make([]any, len(keep))
		for j, i := range keep {
			native, err := cast.ToNative(src[i], typeOf[columns[j]])
			if err != nil {
				return nil, nil, err
			}
			row[j] = native
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func (im *Importer) store(job *Job) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.jobs[job.ID] = job
}
