// Package mutation - координатор мутаций поверх адаптеров.
// Каждая мутация проходит pre-flight конвертацию значений до обращения
// к движку; удаление двухфазное: предложение с предпросмотром строки,
// затем подтверждение по токену.
package mutation

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/ruslano69/dbxray/pkg/adapters"
	"github.com/ruslano69/dbxray/pkg/core/cast"
	"github.com/ruslano69/dbxray/pkg/core/dberr"
	"github.com/ruslano69/dbxray/pkg/core/tabular"
)

// DefaultProposalTTL - время жизни неподтвержденного предложения удаления
const DefaultProposalTTL = 5 * time.Minute

// DeleteProposal - предложение удаления, ожидающее подтверждения.
// Preview содержит текущие display-значения удаляемой строки.
type DeleteProposal struct {
	Token     string
	Schema    string
	Unit      string
	Identity  tabular.RowIdentity
	Preview   *tabular.RowsResult
	ExpiresAt time.Time
}

// Coordinator выполняет мутации через адаптер с проверкой типов
// и двухфазным удалением
type Coordinator struct {
	adapter adapters.Adapter
	log     zerolog.Logger
	ttl     time.Duration

	mu      sync.Mutex
	pending map[string]*DeleteProposal
	nonce   uint64
}

// NewCoordinator создает координатор для адаптера
func NewCoordinator(adapter adapters.Adapter, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		adapter: adapter,
		log:     log,
		ttl:     DefaultProposalTTL,
		pending: map[string]*DeleteProposal{},
	}
}

// Insert вставляет строку; значения проверяются по типам колонок до записи
func (c *Coordinator) Insert(ctx context.Context, schema, unit string, values map[string]string) (*tabular.RowsResult, error) {
	if err := c.precheck(ctx, schema, unit, values); err != nil {
		return nil, err
	}
	res, err := c.adapter.Mutate(ctx, tabular.MutationRequest{
		Schema: schema, Unit: unit, Op: tabular.OpInsert, Values: values,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("unit", unit).Str("op", "insert").Msg("мутация применена")
	return res, nil
}

// Update обновляет одну строку по идентичности
func (c *Coordinator) Update(ctx context.Context, schema, unit string, identity tabular.RowIdentity, values map[string]string) (*tabular.RowsResult, error) {
	if err := c.precheck(ctx, schema, unit, values); err != nil {
		return nil, err
	}
	res, err := c.adapter.Mutate(ctx, tabular.MutationRequest{
		Schema: schema, Unit: unit, Op: tabular.OpUpdate, Identity: identity, Values: values,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("unit", unit).Str("op", "update").Msg("мутация применена")
	return res, nil
}

// ProposeDelete начинает двухфазное удаление: строка находится по идентичности,
// возвращается предложение с предпросмотром и токеном подтверждения.
// Физического удаления на этой фазе не происходит.
func (c *Coordinator) ProposeDelete(ctx context.Context, schema, unit string, identity tabular.RowIdentity) (*DeleteProposal, error) {
	if len(identity) == 0 {
		return nil, &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("пустая идентичность строки")}
	}

	preview, err := c.previewRow(ctx, schema, unit, identity)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gcLocked()

	c.nonce++
	proposal := &DeleteProposal{
		Token:     c.tokenLocked(schema, unit, identity),
		Schema:    schema,
		Unit:      unit,
		Identity:  identity,
		Preview:   preview,
		ExpiresAt: time.Now().Add(c.ttl),
	}
	c.pending[proposal.Token] = proposal
	c.log.Info().Str("unit", unit).Str("token", proposal.Token).Msg("удаление предложено")
	return proposal, nil
}

// ConfirmDelete завершает двухфазное удаление по токену.
// Неизвестный или истекший токен отклоняется без обращения к движку.
func (c *Coordinator) ConfirmDelete(ctx context.Context, token string) (*tabular.RowsResult, error) {
	c.mu.Lock()
	proposal, ok := c.pending[token]
	if ok {
		delete(c.pending, token)
	}
	c.mu.Unlock()

	if !ok || time.Now().After(proposal.ExpiresAt) {
		return nil, &dberr.ValidationError{
			Reason: dberr.ValidationNotCommittable,
			Detail: "предложение удаления не найдено или истекло",
		}
	}

	res, err := c.adapter.Mutate(ctx, tabular.MutationRequest{
		Schema: proposal.Schema, Unit: proposal.Unit,
		Op: tabular.OpDelete, Identity: proposal.Identity,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("unit", proposal.Unit).Str("token", token).Msg("удаление подтверждено")
	return res, nil
}

// CancelDelete отменяет неподтвержденное предложение
func (c *Coordinator) CancelDelete(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[token]
	delete(c.pending, token)
	return ok
}

// precheck конвертирует каждое значение в нативный тип колонки.
// Ошибка конвертации отклоняет мутацию до обращения к движку,
// частичных записей не бывает.
func (c *Coordinator) precheck(ctx context.Context, schema, unit string, values map[string]string) error {
	if len(values) == 0 {
		return &dberr.QuerySyntaxError{Stage: dberr.StageBuilt, Err: fmt.Errorf("нет значений мутации")}
	}
	cols, err := c.adapter.Columns(ctx, schema, unit)
	if err != nil {
		return err
	}
	typeOf := map[string]string{}
	for _, col := range cols {
		typeOf[col.Name] = col.Type
	}
	for name, v := range values {
		if _, err := cast.ToNative(v, typeOf[name]); err != nil {
			return err
		}
	}
	return nil
}

// previewRow выбирает удаляемую строку; идентичность обязана разрешиться
// ровно в одну запись
func (c *Coordinator) previewRow(ctx context.Context, schema, unit string, identity tabular.RowIdentity) (*tabular.RowsResult, error) {
	var where []tabular.WhereCondition
	keys := make([]string, 0, len(identity))
	for k := range identity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		op := tabular.OpEq
		if identity[k] == "" {
			op = tabular.OpIsNull
		}
		where = append(where, tabular.WhereCondition{Field: k, Operator: op, Value: identity[k]})
	}

	res, err := c.adapter.Query(ctx, schema, unit, where, nil, tabular.PageSpec{})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) != 1 {
		return nil, &dberr.ConstraintError{
			Reason: fmt.Sprintf("идентичность строки разрешилась в %d строк, ожидалась ровно 1", len(res.Rows)),
		}
	}
	return res, nil
}

// tokenLocked строит токен предложения: хеш идентичности с нонсом
func (c *Coordinator) tokenLocked(schema, unit string, identity tabular.RowIdentity) string {
	h := xxh3.New()
	h.WriteString(schema)
	h.WriteString("\x00")
	h.WriteString(unit)
	keys := make([]string, 0, len(identity))
	for k := range identity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteString("\x00")
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(identity[k])
	}
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], c.nonce)
	h.Write(nonce[:])
	return fmt.Sprintf("%016x", h.Sum64())
}

// gcLocked выбрасывает истекшие предложения; вызывается под мьютексом
func (c *Coordinator) gcLocked() {
	now := time.Now()
	for token, p := range c.pending {
		if now.After(p.ExpiresAt) {
			delete(c.pending, token)
		}
	}
}
