package provider

import (
	"context"
	"sort"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// Handler executes one operation against its item. The returned value must be a
// JSON-object-like map for the operation to count as completed.
type Handler interface {
	Execute(ctx context.Context, itemRef string, parameters map[string]any) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, itemRef string, parameters map[string]any) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, itemRef string, parameters map[string]any) (any, error) {
	return f(ctx, itemRef, parameters)
}

// Dispatcher is a fixed lookup table from operation type to handler.
type Dispatcher struct {
	handlers map[domain.OperationType]Handler
}

func NewDispatcher(handlers map[domain.OperationType]Handler) *Dispatcher {
	table := make(map[domain.OperationType]Handler, len(handlers))
	for opType, h := range handlers {
		if h == nil {
			continue
		}
		table[opType] = h
	}
	return &Dispatcher{handlers: table}
}

func (d *Dispatcher) Handler(opType domain.OperationType) (Handler, bool) {
	if d == nil {
		return nil, false
	}
	h, ok := d.handlers[opType]
	return h, ok
}

func (d *Dispatcher) Supports(opType domain.OperationType) bool {
	_, ok := d.Handler(opType)
	return ok
}

func (d *Dispatcher) SupportedTypes() []domain.OperationType {
	if d == nil {
		return nil
	}
	types := make([]domain.OperationType, 0, len(d.handlers))
	for opType := range d.handlers {
		types = append(types, opType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
