package adapters

import (
	"context"
	"fmt"
	"sync"
)

// AdapterConstructor - функция-конструктор адаптера
// Возвращает новый экземпляр адаптера (еще не подключенный)
type AdapterConstructor func() Adapter

// Factory - фабрика адаптеров
// Управляет регистрацией и созданием адаптеров различных типов движков
type Factory struct {
	registry map[string]AdapterConstructor
	mu       sync.RWMutex
}

// NewFactory создает новую фабрику адаптеров
func NewFactory() *Factory {
	return &Factory{
		registry: make(map[string]AdapterConstructor),
	}
}

// Register регистрирует конструктор адаптера для типа движка
// engineType - один из: "postgres", "mysql", "sqlite", "mssql", "mongodb", "redis"
//
// Пример:
//
//	factory.Register("postgres", func() adapters.Adapter {
//	    return &postgres.Adapter{}
//	})
func (f *Factory) Register(engineType string, constructor AdapterConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[engineType] = constructor
}

// IsRegistered проверяет, зарегистрирован ли адаптер для типа движка
func (f *Factory) IsRegistered(engineType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.registry[engineType]
	return ok
}

// RegisteredTypes возвращает список зарегистрированных типов движков
func (f *Factory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.registry))
	for engineType := range f.registry {
		types = append(types, engineType)
	}
	return types
}

// Create создает и подключает адаптер по конфигурации
func (f *Factory) Create(ctx context.Context, cfg Config) (Adapter, error) {
	f.mu.RLock()
	constructor, ok := f.registry[cfg.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown engine type: %s (available types: %v)",
			cfg.Type, f.RegisteredTypes())
	}

	adapter := constructor()

	if err := adapter.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}

	return adapter, nil
}

// CreateWithoutConnect создает адаптер БЕЗ подключения
// Полезно для тестирования или отложенного подключения
func (f *Factory) CreateWithoutConnect(engineType string) (Adapter, error) {
	f.mu.RLock()
	constructor, ok := f.registry[engineType]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown engine type: %s (available types: %v)",
			engineType, f.RegisteredTypes())
	}

	return constructor(), nil
}

// ========== Global Factory ==========

var globalFactory = NewFactory()

// Register регистрирует адаптер в глобальной фабрике
// Обычно вызывается в init() функциях пакетов адаптеров
func Register(engineType string, constructor AdapterConstructor) {
	globalFactory.Register(engineType, constructor)
}

// IsRegistered проверяет регистрацию в глобальной фабрике
func IsRegistered(engineType string) bool {
	return globalFactory.IsRegistered(engineType)
}

// RegisteredTypes возвращает типы из глобальной фабрики
func RegisteredTypes() []string {
	return globalFactory.RegisteredTypes()
}

// New создает адаптер через глобальную фабрику
// Основной способ создания адаптеров в приложении
//
// Пример:
//
//	adapter, err := adapters.New(ctx, adapters.Config{
//	    Type: "sqlite",
//	    DSN:  "file:app.db",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adapter.Close(ctx)
func New(ctx context.Context, cfg Config) (Adapter, error) {
	return globalFactory.Create(ctx, cfg)
}

// NewWithoutConnect создает адаптер БЕЗ подключения через глобальную фабрику
func NewWithoutConnect(engineType string) (Adapter, error) {
	return globalFactory.CreateWithoutConnect(engineType)
}
