package train

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrStrategyExists   = errors.New("strategy already registered")
	ErrStrategyNotFound = errors.New("strategy not found")
)

var strategyRegistry = struct {
	mu sync.RWMutex
	m  map[string]Strategy
}{
	m: make(map[string]Strategy),
}

func init() {
	initializeBuiltInStrategies()
}

func initializeBuiltInStrategies() {
	for _, s := range []Strategy{Descent{}, Gadam{}, Evolve{}, Amoeba{}, Swarm{}} {
		MustRegisterStrategy(s)
	}
}

func RegisterStrategy(s Strategy) error {
	if s == nil {
		return errors.New("strategy is required")
	}
	name := s.Name()
	if name == "" {
		return errors.New("strategy name is required")
	}
	switch s.Kind() {
	case KindModel, KindPopulation:
	default:
		return fmt.Errorf("strategy %s has unknown kind %q", name, s.Kind())
	}

	strategyRegistry.mu.Lock()
	defer strategyRegistry.mu.Unlock()

	if _, exists := strategyRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, name)
	}
	strategyRegistry.m[name] = s
	return nil
}

func MustRegisterStrategy(s Strategy) {
	if err := RegisterStrategy(s); err != nil {
		panic(err)
	}
}

func ResolveStrategy(name string) (Strategy, error) {
	strategyRegistry.mu.RLock()
	s, ok := strategyRegistry.m[name]
	strategyRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	return s, nil
}

func ListStrategies() []string {
	strategyRegistry.mu.RLock()
	defer strategyRegistry.mu.RUnlock()

	names := make([]string, 0, len(strategyRegistry.m))
	for name := range strategyRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetStrategyRegistryForTests() {
	strategyRegistry.mu.Lock()
	strategyRegistry.m = make(map[string]Strategy)
	strategyRegistry.mu.Unlock()
	initializeBuiltInStrategies()
}
