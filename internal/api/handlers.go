package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
	"github.com/ruslano69/dbxray/pkg/exporter"
	"github.com/ruslano69/dbxray/pkg/importer"
	"github.com/ruslano69/dbxray/pkg/mockdata"
	"github.com/ruslano69/dbxray/pkg/mutation"
)

// maxUploadBytes caps import payload size (64 MiB).
const maxUploadBytes = 64 << 20

type handler struct {
	adapter     adapters.Adapter
	coordinator *mutation.Coordinator
	importer    *importer.Importer
	exporter    *exporter.Exporter
	generator   *mockdata.Generator
	log         zerolog.Logger
}

// ---------- wire types ----------

type whereDTO struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type sortDTO struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

type pageDTO struct {
	Size   int `json:"size"`
	Offset int `json:"offset"`
}

type queryRequest struct {
	Schema string     `json:"schema"`
	Unit   string     `json:"unit"`
	Where  []whereDTO `json:"where"`
	Sort   []sortDTO  `json:"sort"`
	Page   pageDTO    `json:"page"`
}

type mutateRequest struct {
	Op       string            `json:"op"` // insert | update
	Schema   string            `json:"schema"`
	Unit     string            `json:"unit"`
	Identity map[string]string `json:"identity"`
	Values   map[string]string `json:"values"`
}

type deleteRequest struct {
	Schema   string            `json:"schema"`
	Unit     string            `json:"unit"`
	Identity map[string]string `json:"identity"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type exportRequest struct {
	Schema       string     `json:"schema"`
	Unit         string     `json:"unit"`
	Format       string     `json:"format"`
	Delimiter    string     `json:"delimiter"`
	Compress     bool       `json:"compress"`
	Where        []whereDTO `json:"where"`
	Sort         []sortDTO  `json:"sort"`
	SelectedRows [][]string `json:"selected_rows"`
}

type mockDataRequest struct {
	Schema    string `json:"schema"`
	Unit      string `json:"unit"`
	Rows      int    `json:"rows"`
	Overwrite bool   `json:"overwrite"`
	// Confirm must be true for overwrite: the operation destroys data
	Confirm bool   `json:"confirm"`
	Seed    uint64 `json:"seed"`
}

type rawRequest struct {
	Query string `json:"query"`
}

// ---------- read path ----------

func (h *handler) handleUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.adapter.ListUnits(r.Context(), r.URL.Query().Get("schema"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (h *handler) handleExplore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unit := q.Get("unit")
	if unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}
	attrs, err := h.adapter.Explore(r.Context(), q.Get("schema"), unit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unit": unit, "attributes": attrs})
}

func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	res, err := h.adapter.Query(r.Context(), req.Schema, req.Unit,
		toWhere(req.Where), toSort(req.Sort),
		tabular.PageSpec{Size: req.Page.Size, Offset: req.Page.Offset})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	raw, ok := h.adapter.(adapters.RawExecutor)
	if !ok {
		writeDomainError(w, &dberr.UnsupportedOperationError{
			Reason: "engine " + h.adapter.EngineType() + " does not execute raw SQL",
		})
		return
	}
	res, err := raw.RawExecute(r.Context(), req.Query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------- write path ----------

func (h *handler) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req mutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	var res *tabular.RowsResult
	var err error
	switch req.Op {
	case "insert":
		res, err = h.coordinator.Insert(r.Context(), req.Schema, req.Unit, req.Values)
	case "update":
		res, err = h.coordinator.Update(r.Context(), req.Schema, req.Unit, req.Identity, req.Values)
	case "delete":
		// deletes are two-phase; the direct endpoint refuses them
		writeError(w, http.StatusBadRequest, "delete goes through /api/delete + /api/delete/confirm")
		return
	default:
		writeError(w, http.StatusBadRequest, "op must be insert or update")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleProposeDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	proposal, err := h.coordinator.ProposeDelete(r.Context(), req.Schema, req.Unit, req.Identity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      proposal.Token,
		"preview":    proposal.Preview,
		"expires_at": proposal.ExpiresAt,
	})
}

func (h *handler) handleConfirmDelete(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	res, err := h.coordinator.ConfirmDelete(r.Context(), req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleCancelDelete(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if !h.coordinator.CancelDelete(req.Token) {
		writeError(w, http.StatusNotFound, "no pending delete for this token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ---------- export ----------

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	format := exporter.Format(req.Format)
	opts := exporter.Options{
		Format:       format,
		Compress:     req.Compress,
		SelectedRows: req.SelectedRows,
		Where:        toWhere(req.Where),
		Sort:         toSort(req.Sort),
	}
	if req.Delimiter != "" {
		opts.Delimiter = rune(req.Delimiter[0])
	}

	filename := exporter.Filename(req.Unit, format, req.Compress)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	switch format {
	case exporter.FormatExcel:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	default:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	}

	if err := h.exporter.Export(r.Context(), h.adapter, req.Schema, req.Unit, opts, w); err != nil {
		// headers may already be sent; log and abort the stream
		h.log.Error().Err(err).Str("unit", req.Unit).Msg("export failed mid-stream")
	}
}

// ---------- import ----------

func (h *handler) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	if len(payload) > maxUploadBytes {
		writeDomainError(w, &dberr.ValidationError{
			Reason: dberr.ValidationPayloadTooBig,
			Detail: fmt.Sprintf("limit is %d bytes", maxUploadBytes),
		})
		return
	}

	job, err := h.importer.Upload(
		r.FormValue("schema"),
		r.FormValue("unit"),
		importer.Format(r.FormValue("format")),
		payload,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (h *handler) handleImportPreview(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	job, rows, err := h.importer.Preview(chi.URLParam(r, "id"), n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":     jobView(job),
		"columns": job.Columns,
		"rows":    rows,
	})
}

func (h *handler) handleImportValidate(w http.ResponseWriter, r *http.Request) {
	job, err := h.importer.Validate(r.Context(), chi.URLParam(r, "id"), h.adapter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (h *handler) handleImportCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Overwrite            bool `json:"overwrite"`
		ExcludeAutoGenerated bool `json:"exclude_auto_generated"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	job, err := h.importer.Commit(r.Context(), chi.URLParam(r, "id"), h.adapter, importer.CommitOptions{
		Overwrite:            req.Overwrite,
		ExcludeAutoGenerated: req.ExcludeAutoGenerated,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

// ---------- mock data ----------

func (h *handler) handleMockData(w http.ResponseWriter, r *http.Request) {
	var req mockDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}
	if req.Overwrite && !req.Confirm {
		writeError(w, http.StatusBadRequest, "overwrite destroys existing rows; set confirm=true")
		return
	}

	n, err := h.generator.Generate(r.Context(), h.adapter, req.Schema, req.Unit, mockdata.Options{
		Rows:      req.Rows,
		Overwrite: req.Overwrite,
		Seed:      req.Seed,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": n})
}

// ---------- helpers ----------

func toWhere(in []whereDTO) []tabular.WhereCondition {
	out := make([]tabular.WhereCondition, 0, len(in))
	for _, c := range in {
		out = append(out, tabular.WhereCondition{
			Field:    c.Field,
			Operator: tabular.Operator(c.Operator),
			Value:    c.Value,
		})
	}
	return out
}

func toSort(in []sortDTO) []tabular.SortSpec {
	out := make([]tabular.SortSpec, 0, len(in))
	for _, s := range in {
		dir := tabular.SortAsc
		if s.Direction == "desc" {
			dir = tabular.SortDesc
		}
		out = append(out, tabular.SortSpec{Column: s.Column, Direction: dir})
	}
	return out
}

func jobView(job *importer.Job) map[string]any {
	v := map[string]any{
		"id":     job.ID,
		"format": job.Format,
		"state":  job.State,
		"unit":   job.Unit,
		"rows":   len(job.Rows),
	}
	if job.Format == importer.FormatSQL {
		v["statements"] = len(job.Statements)
	}
	if job.Reject != nil {
		v["reject"] = job.Reject.Error()
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the typed error taxonomy to HTTP statuses.
// Native engine message fragments are preserved in the body.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		connErr        *dberr.ConnectionError
		syntaxErr      *dberr.QuerySyntaxError
		castErr        *dberr.CastError
		unsupportedErr *dberr.UnsupportedOperationError
		constraintErr  *dberr.ConstraintError
		validationErr  *dberr.ValidationError
	)
	switch {
	case errors.As(err, &connErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"code": "connection_error", "error": err.Error()})
	case errors.As(err, &syntaxErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "query_syntax_error", "error": err.Error()})
	case errors.As(err, &castErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "cast_error", "error": err.Error()})
	case errors.As(err, &unsupportedErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "unsupported_operation", "error": err.Error()})
	case errors.As(err, &constraintErr):
		writeJSON(w, http.StatusConflict, map[string]string{"code": "constraint_error", "error": err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "validation_error", "error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "error": err.Error()})
	}
}
