// Package mongodb - адаптер MongoDB (семейство document).
// Коллекции бесschemные: набор полей выводится сэмплированием документов,
// фильтры и сортировки транслируются в нативный язык запросов.
package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

func init() {
	adapters.Register("mongodb", func() adapters.Adapter {
		return &Adapter{}
	})
}

// sampleSize - количество документов для вывода набора полей коллекции
const sampleSize = 50

// Adapter - адаптер MongoDB
type Adapter struct {
	client   *mongo.Client
	database string
}

// Connect подключается к серверу и проверяет доступность
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return &dberr.ConnectionError{Engine: "mongodb", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return &dberr.ConnectionError{Engine: "mongodb", Err: err}
	}
	a.client = client
	a.database = cfg.Database
	return nil
}

// Close разрывает подключение
func (a *Adapter) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}

// Ping проверяет доступность сервера
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx, nil); err != nil {
		return &dberr.ConnectionError{Engine: "mongodb", Err: err}
	}
	return nil
}

// Kind - документное семейство
func (a *Adapter) Kind() tabular.EngineKind { return tabular.KindDocument }

// EngineType возвращает тип движка
func (a *Adapter) EngineType() string { return "mongodb" }

func (a *Adapter) db() *mongo.Database {
	return a.client.Database(a.database)
}

// ListUnits перечисляет коллекции базы с количеством документов
func (a *Adapter) ListUnits(ctx context.Context, schema string) ([]tabular.StorageUnit, error) {
	names, err := a.db().ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	sort.Strings(names)

	var units []tabular.StorageUnit
	for _, name := range names {
		count, err := a.db().Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
		}
		units = append(units, tabular.StorageUnit{
			Name: name,
			Kind: tabular.KindDocument,
			Attributes: []tabular.Attribute{
				{Key: "Type", Value: "collection"},
				{Key: "Count", Value: fmt.Sprintf("%d", count)},
			},
		})
	}
	return units, nil
}

// Columns выводит набор полей коллекции сэмплированием.
// _id всегда первый, остальные поля в алфавитном порядке.
func (a *Adapter) Columns(ctx context.Context, schema, unit string) ([]tabular.Column, error) {
	cur, err := a.db().Collection(unit).Find(ctx, bson.D{}, options.Find().SetLimit(sampleSize))
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer cur.Close(ctx)

	fieldTypes := map[string]string{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		for k, v := range doc {
			if _, seen := fieldTypes[k]; !seen {
				fieldTypes[k] = bsonTypeName(v)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}

	names := make([]string, 0, len(fieldTypes))
	for k := range fieldTypes {
		if k != "_id" {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	cols := []tabular.Column{}
	if t, ok := fieldTypes["_id"]; ok {
		cols = append(cols, tabular.Column{Name: "_id", Type: t})
	}
	for _, n := range names {
		cols = append(cols, tabular.Column{Name: n, Type: fieldTypes[n]})
	}
	return cols, nil
}

// Explore возвращает метаданные коллекции: тип, количество, поля сэмпла
func (a *Adapter) Explore(ctx context.Context, schema, unit string) ([]tabular.Attribute, error) {
	count, err := a.db().Collection(unit).EstimatedDocumentCount(ctx)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	cols, err := a.Columns(ctx, schema, unit)
	if err != nil {
		return nil, err
	}
	attrs := []tabular.Attribute{
		{Key: "Type", Value: "collection"},
		{Key: "Count", Value: fmt.Sprintf("%d", count)},
	}
	for _, c := range cols {
		attrs = append(attrs, tabular.Attribute{Key: c.Name, Value: c.Type})
	}
	return attrs, nil
}

// Query транслирует условия в нативный фильтр и выполняет выборку
// с серверной сортировкой и пагинацией
func (a *Adapter) Query(ctx context.Context, schema, unit string, where []tabular.WhereCondition, sortBy []tabular.SortSpec, page tabular.PageSpec) (*tabular.RowsResult, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	filter, err := buildFilter(where)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(sortBy) > 0 {
		var s bson.D
		for _, spec := range sortBy {
			dir := 1
			if spec.Direction == tabular.SortDesc {
				dir = -1
			}
			s = append(s, bson.E{Key: spec.Column, Value: dir})
		}
		opts.SetSort(s)
	}
	if page.Size > 0 {
		opts.SetSkip(int64(page.Offset)).SetLimit(int64(page.Size))
	}

	coll := a.db().Collection(unit)
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	defer cur.Close(ctx)

	cols, err := a.Columns(ctx, schema, unit)
	if err != nil {
		return nil, err
	}

	result := &tabular.RowsResult{Columns: cols, Rows: [][]string{}}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
		}
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = displayValue(doc[c.Name])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := cur.Err(); err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageRendered, Err: err}
	}

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
	}
	totalInt := int(total)
	result.TotalCount = &totalInt
	return result, nil
}

// Mutate выполняет одиночную мутацию документа.
// Идентичность задается _id; update применяет $set, delete удаляет документ.
func (a *Adapter) Mutate(ctx context.Context, req tabular.MutationRequest) (*tabular.RowsResult, error) {
	coll := a.db().Collection(req.Unit)

	switch req.Op {
	case tabular.OpInsert:
		doc := bson.M{}
		for k, v := range req.Values {
			doc[k] = coerceValue(v)
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return nil, classifyMongoError(err)
		}
		return affected(1), nil

	case tabular.OpUpdate:
		filter, err := identityFilter(req.Identity)
		if err != nil {
			return nil, err
		}
		set := bson.M{}
		for k, v := range req.Values {
			if k == "_id" {
				return nil, &dberr.UnsupportedOperationError{Reason: "_id документа неизменяем"}
			}
			set[k] = coerceValue(v)
		}
		res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": set})
		if err != nil {
			return nil, classifyMongoError(err)
		}
		if res.MatchedCount != 1 {
			return nil, &dberr.ConstraintError{
				Reason: fmt.Sprintf("идентичность документа разрешилась в %d документов, ожидался ровно 1", res.MatchedCount),
			}
		}
		return affected(res.ModifiedCount), nil

	case tabular.OpDelete:
		filter, err := identityFilter(req.Identity)
		if err != nil {
			return nil, err
		}
		res, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return nil, classifyMongoError(err)
		}
		if res.DeletedCount != 1 {
			return nil, &dberr.ConstraintError{
				Reason: fmt.Sprintf("идентичность документа разрешилась в %d документов, ожидался ровно 1", res.DeletedCount),
			}
		}
		return affected(1), nil

	default:
		return nil, &dberr.UnsupportedOperationError{Reason: fmt.Sprintf("неизвестная операция мутации: %q", req.Op)}
	}
}

// Truncate удаляет все документы коллекции
func (a *Adapter) Truncate(ctx context.Context, schema, unit string) error {
	if _, err := a.db().Collection(unit).DeleteMany(ctx, bson.D{}); err != nil {
		return classifyMongoError(err)
	}
	return nil
}

// BulkInsert вставляет документы одной операцией InsertMany.
// overwrite заменяет документы с совпадающим _id через ReplaceOne+upsert.
func (a *Adapter) BulkInsert(ctx context.Context, schema, unit string, columns []string, rows [][]any, overwrite bool) error {
	if len(rows) == 0 {
		return nil
	}
	coll := a.db().Collection(unit)

	docs := make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row) != len(columns) {
			return &dberr.ValidationError{
				Reason: dberr.ValidationRowTooWide,
				Detail: fmt.Sprintf("строка содержит %d значений при %d колонках", len(row), len(columns)),
			}
		}
		doc := bson.M{}
		for i, c := range columns {
			doc[c] = row[i]
		}
		docs = append(docs, doc)
	}

	if !overwrite {
		if _, err := coll.InsertMany(ctx, docs); err != nil {
			return classifyMongoError(err)
		}
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		doc := d.(bson.M)
		if id, ok := doc["_id"]; ok {
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": id}).SetReplacement(doc).SetUpsert(true))
		} else {
			models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
		}
	}
	if _, err := coll.BulkWrite(ctx, models); err != nil {
		return classifyMongoError(err)
	}
	return nil
}

// ========== Трансляция значений и фильтров ==========

func buildFilter(where []tabular.WhereCondition) (bson.M, error) {
	filter := bson.M{}
	for _, c := range where {
		if err := c.Validate(); err != nil {
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: err}
		}
		v := coerceValue(c.Value)
		var expr any
		switch c.Operator {
		case tabular.OpEq:
			expr = bson.M{"$eq": v}
		case tabular.OpNe:
			expr = bson.M{"$ne": v}
		case tabular.OpGt:
			expr = bson.M{"$gt": v}
		case tabular.OpGte:
			expr = bson.M{"$gte": v}
		case tabular.OpLt:
			expr = bson.M{"$lt": v}
		case tabular.OpLte:
			expr = bson.M{"$lte": v}
		case tabular.OpLike:
			expr = bson.M{"$regex": likeToRegex(c.Value), "$options": "i"}
		case tabular.OpNotLike:
			expr = bson.M{"$not": bson.M{"$regex": likeToRegex(c.Value), "$options": "i"}}
		case tabular.OpIsNull:
			expr = bson.M{"$eq": nil}
		case tabular.OpIsNotNull:
			expr = bson.M{"$ne": nil}
		default:
			return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated,
				Err: fmt.Errorf("оператор %q не транслируется в фильтр", c.Operator)}
		}
		filter[c.Field] = expr
	}
	return filter, nil
}

// likeToRegex транслирует LIKE-шаблон в якоренное регулярное выражение
func likeToRegex(pattern string) string {
	escaped := regexpQuote(pattern)
	escaped = strings.ReplaceAll(escaped, "%", ".*")
	escaped = strings.ReplaceAll(escaped, "_", ".")
	return "^" + escaped + "$"
}

func regexpQuote(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// coerceValue пытается привести display-строку к нативному типу:
// ObjectID, число, bool, иначе строка как есть
func coerceValue(s string) any {
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return oid
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	return s
}

func identityFilter(identity tabular.RowIdentity) (bson.M, error) {
	if len(identity) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageTranslated, Err: fmt.Errorf("пустая идентичность документа")}
	}
	filter := bson.M{}
	for k, v := range identity {
		filter[k] = coerceValue(v)
	}
	return filter, nil
}

// displayValue приводит значение BSON к каноническому display-представлению
func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format("2006-01-02 15:04:05")
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04:05")
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case primitive.Binary:
		return fmt.Sprintf("%X", t.Data)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case bool:
		return "bool"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.A:
		return "array"
	case bson.M, bson.D:
		return "object"
	case primitive.Binary:
		return "binData"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

func classifyMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return &dberr.ConstraintError{Reason: "нарушение уникальности _id или индекса", Err: err}
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return &dberr.ConnectionError{Engine: "mongodb", Err: err}
	}
	return &dberr.QuerySyntaxError{Stage: dberr.StageExecuted, Err: err}
}

func affected(n int64) *tabular.RowsResult {
	return &tabular.RowsResult{
		Columns: []tabular.Column{{Name: "rows_affected", Type: "int"}},
		Rows:    [][]string{{strconv.FormatInt(n, 10)}},
	}
}
