package failure

// Strategy produces a degraded result for a classified failure. The boolean is
// false when the strategy has nothing to offer.
type Strategy func(c Classification) (map[string]any, bool)

// Manager holds the recovery strategy registered for each failure kind.
type Manager struct {
	strategies map[Kind]Strategy
}

type Option func(m *Manager)

// WithStrategy registers s for kind, replacing any default. A nil s removes it.
func WithStrategy(kind Kind, s Strategy) Option {
	return func(m *Manager) {
		if s == nil {
			delete(m.strategies, kind)
			return
		}
		m.strategies[kind] = s
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		strategies: map[Kind]Strategy{
			KindBatch: PartialResultStrategy,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover returns a fallback for recoverable failures only.
func (m *Manager) Recover(c Classification) (map[string]any, bool) {
	if m == nil || !c.Recoverable {
		return nil, false
	}
	s, ok := m.strategies[c.Kind]
	if !ok {
		return nil, false
	}
	return s(c)
}

// PartialResultStrategy surfaces the partial results of a batch-error.
func PartialResultStrategy(c Classification) (map[string]any, bool) {
	if len(c.Partial) == 0 {
		return nil, false
	}
	partial := make([]any, 0, len(c.Partial))
	for _, r := range c.Partial {
		partial = append(partial, r)
	}
	return map[string]any{
		"degraded":       true,
		"partialResults": partial,
	}, true
}

// EmptyResultStrategy substitutes an empty result set.
func EmptyResultStrategy(c Classification) (map[string]any, bool) {
	return map[string]any{
		"degraded": true,
		"results":  []any{},
		"reason":   string(c.Kind),
	}, true
}
