package simple

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Generator hands out sequential ids such as "hold-1". Deterministic, for tests and seeds.
type Generator struct {
	prefix  string
	counter atomic.Int64
}

func New(prefix string) *Generator {
	//nolint:exhaustruct
	return &Generator{prefix: prefix}
}

func (g *Generator) GetID(_ context.Context) (string, error) {
	return fmt.Sprintf("%s-%d", g.prefix, g.counter.Add(1)), nil
}
