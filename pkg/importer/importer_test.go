package importer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/adapters/sqlite"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func newTestAdapter(t *testing.T) *sqlite.Adapter {
	t.Helper()
	ctx := context.Background()
	a := &sqlite.Adapter{}
	if err := a.Connect(ctx, adapters.Config{Type: "sqlite", DSN: ":memory:", MaxConns: 1}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { a.Close(ctx) })
	if _, err := a.DB().ExecContext(ctx,
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL, age INTEGER)`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return a
}

func rejectionReason(t *testing.T, err error) string {
	t.Helper()
	var valErr *dberr.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	return valErr.Reason
}

func TestUploadCSVHappyPath(t *testing.T) {
	im := NewImporter(zerolog.Nop())
	payload := []byte("id,username,age\n1,john,30\n2,jane,25\n")

	job, err := im.Upload("", "users", FormatCSV, payload)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if job.State != StateParsed {
		t.Errorf("State = %q, want parsed", job.State)
	}
	if len(job.Columns) != 3 || len(job.Rows) != 2 {
		t.Errorf("columns=%v rows=%v", job.Columns, job.Rows)
	}

	// отпечаток детерминирован по содержимому
	job2, _ := im.Upload("", "users", FormatCSV, payload)
	if job2.ID != job.ID {
		t.Error("повторная загрузка того же файла должна дать тот же ID")
	}
}

func TestUploadCSVSemicolonDelimiter(t *testing.T) {
	im := NewImporter(zerolog.Nop())
	job, err := im.Upload("", "users", FormatCSV, []byte("id;username;age\n1;john;30\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(job.Columns) != 3 {
		t.Errorf("columns = %v, разделитель не распознан", job.Columns)
	}
}

func TestUploadRejections(t *testing.T) {
	im := NewImporter(zerolog.Nop())

	cases := []struct {
		name    string
		format  Format
		payload string
		reason  string
	}{
		{"пустой файл", FormatCSV, "", dberr.ValidationEmptyPayload},
		{"дубликат заголовка", FormatCSV, "id,username,id\n1,a,2\n", dberr.ValidationDuplicateHeader},
		{"пустой заголовок", FormatCSV, "id,,age\n1,a,2\n", dberr.ValidationEmptyHeader},
		{"лишние значения", FormatCSV, "id,username\n1,a,extra\n", dberr.ValidationRowTooWide},
		{"неизвестный формат", Format("parquet"), "data", dberr.ValidationUnknownFormat},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			job, err := im.Upload("", "users", c.format, []byte(c.payload))
			if got := rejectionReason(t, err); got != c.reason {
				t.Errorf("reason = %q, want %q", got, c.reason)
			}
			if job.State != StateRejected {
				t.Errorf("State = %q, want rejected", job.State)
			}
		})
	}
}

// Конкурирующие запросы к одному заданию сериализуются: состояние
// остается согласованным, фиксация происходит ровно один раз
func TestConcurrentJobAccess(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())
	ctx := context.Background()

	job, err := im.Upload("", "users", FormatCSV, []byte("username,age\nalice,30\nbob,25\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	var wg sync.WaitGroup
	var committed atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			im.Preview(job.ID, 1)
			im.Validate(ctx, job.ID, a)
			if _, err := im.Commit(ctx, job.ID, a, CommitOptions{}); err == nil {
				committed.Add(1)
			}
		}()
	}
	wg.Wait()

	if committed.Load() != 1 {
		t.Errorf("успешных Commit = %d, want 1", committed.Load())
	}
	got, _ := im.Job(job.ID)
	if got.State != StateCommitted {
		t.Errorf("State = %q, want committed", got.State)
	}

	res, err := a.Query(ctx, "", "users", nil, nil, tabular.PageSpec{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("строк = %d, want 2 (партия записана один раз)", len(res.Rows))
	}
}

// Файл из одного заголовка разбирается успешно, но валидацию не проходит
func TestHeaderOnlyCSVParsesButCannotCommit(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())

	job, err := im.Upload("", "users", FormatCSV, []byte("id,username\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if job.State != StateParsed {
		t.Fatalf("State = %q, want parsed", job.State)
	}

	_, err = im.Validate(context.Background(), job.ID, a)
	if got := rejectionReason(t, err); got != dberr.ValidationNoDataRows {
		t.Errorf("reason = %q, want %q", got, dberr.ValidationNoDataRows)
	}
	if job.State != StateRejected {
		t.Errorf("State = %q, want rejected", job.State)
	}
}

func TestUploadExcel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetSheetRow(sheet, "A1", &[]string{"id", "username", "age"})
	f.SetSheetRow(sheet, "A2", &[]any{1, "john", 30})
	f.SetSheetRow(sheet, "A3", &[]any{2, "jane", 25})
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	im := NewImporter(zerolog.Nop())
	job, err := im.Upload("", "users", FormatExcel, buf.Bytes())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(job.Columns) != 3 || len(job.Rows) != 2 {
		t.Errorf("columns=%v rows=%v", job.Columns, job.Rows)
	}
	if job.Rows[0][1] != "john" {
		t.Errorf("rows = %v", job.Rows)
	}
}

func TestUploadExcelGarbage(t *testing.T) {
	im := NewImporter(zerolog.Nop())
	_, err := im.Upload("", "users", FormatExcel, []byte("this is not a workbook"))
	if got := rejectionReason(t, err); got != dberr.ValidationUnknownFormat {
		t.Errorf("reason = %q", got)
	}
}

func TestFullPipelineCSV(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())
	ctx := context.Background()

	job, err := im.Upload("", "users", FormatCSV, []byte("id,username,age\n1,john,30\n2,jane,25\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, rows, err := im.Preview(job.ID, 1); err != nil || len(rows) != 1 {
		t.Fatalf("Preview() rows=%v err=%v", rows, err)
	}

	if _, err := im.Validate(ctx, job.ID, a); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if job.State != StateValidated {
		t.Errorf("State = %q", job.State)
	}

	if _, err := im.Commit(ctx, job.ID, a, CommitOptions{}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if job.State != StateCommitted {
		t.Errorf("State = %q", job.State)
	}

	res, _ := a.Query(ctx, "", "users", nil, nil, tabular.PageSpec{})
	if len(res.Rows) != 2 {
		t.Errorf("после импорта строк = %d", len(res.Rows))
	}
}

func TestCommitWithoutValidation(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())

	job, _ := im.Upload("", "users", FormatCSV, []byte("id,username\n1,john\n"))
	_, err := im.Commit(context.Background(), job.ID, a, CommitOptions{})
	if got := rejectionReason(t, err); got != dberr.ValidationNotCommittable {
		t.Errorf("reason = %q, want not_committable", got)
	}
}

func TestValidateUnknownColumn(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())

	job, _ := im.Upload("", "users", FormatCSV, []byte("id,nickname\n1,john\n"))
	_, err := im.Validate(context.Background(), job.ID, a)
	if err == nil {
		t.Fatal("валидация обязана отклонить неизвестную колонку")
	}
	if job.State != StateRejected {
		t.Errorf("State = %q", job.State)
	}
}

func TestExcludeAutoGenerated(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())
	ctx := context.Background()

	job, err := im.Upload("", "users", FormatCSV, []byte("id,username,age\n100,john,30\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := im.Validate(ctx, job.ID, a); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, err := im.Commit(ctx, job.ID, a, CommitOptions{ExcludeAutoGenerated: true}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// id назначен движком, а не взят из файла
	res, _ := a.Query(ctx, "", "users", nil, nil, tabular.PageSpec{})
	if res.Rows[0][0] != "1" {
		t.Errorf("id = %q, want 1 (сгенерирован движком)", res.Rows[0][0])
	}
}

func TestSQLImportPipeline(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())
	ctx := context.Background()

	payload := []byte(`
		INSERT INTO users (username, age) VALUES ('john; the first', 30);
		-- комментарий с точкой с запятой;
		INSERT INTO users (username, age) VALUES ('jane', 25);
	`)
	job, err := im.Upload("", "users", FormatSQL, payload)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(job.Statements) != 2 {
		t.Fatalf("statements = %d, want 2: %v", len(job.Statements), job.Statements)
	}

	if _, err := im.Validate(ctx, job.ID, a); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, err := im.Commit(ctx, job.ID, a, CommitOptions{}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	res, _ := a.Query(ctx, "", "users", nil, nil, tabular.PageSpec{})
	if len(res.Rows) != 2 {
		t.Errorf("после SQL импорта строк = %d", len(res.Rows))
	}
	if res.Rows[0][1] != "john; the first" {
		t.Errorf("литерал с точкой с запятой поврежден: %q", res.Rows[0][1])
	}
}

type noMultiAdapter struct {
	*sqlite.Adapter
}

func (noMultiAdapter) AcceptsMultiStatement() bool { return false }

func TestSQLMultiStatementRejected(t *testing.T) {
	a := newTestAdapter(t)
	im := NewImporter(zerolog.Nop())

	job, err := im.Upload("", "users", FormatSQL,
		[]byte("INSERT INTO users (username) VALUES ('a'); INSERT INTO users (username) VALUES ('b');"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	_, err = im.Validate(context.Background(), job.ID, noMultiAdapter{a})
	if got := rejectionReason(t, err); got != dberr.ValidationMultiStatement {
		t.Errorf("reason = %q, want multi_statement", got)
	}
	if job.State != StateRejected {
		t.Errorf("State = %q", job.State)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `
		CREATE TABLE t (s TEXT DEFAULT 'a;b');
		/* блочный; комментарий */
		INSERT INTO t VALUES ('it''s; fine');
		SELECT * FROM "strange;name"
	`
	stmts := SplitStatements(script)
	if len(stmts) != 3 {
		t.Fatalf("statements = %d: %q", len(stmts), stmts)
	}
	if stmts[1] == "" || stmts[2] == "" {
		t.Errorf("пустые операторы: %q", stmts)
	}
}
