package expressions

import (
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// programCache memoizes compiled programs by source text.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{programs: make(map[string]P)}
}

// get returns the cached program for src, compiling it once on a miss.
// Failed compilations are not cached.
func (c *programCache[P]) get(src string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := compile(src)
	if err != nil {
		return p, err
	}
	c.programs[src] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// exprError wraps an engine failure with the offending expression attached.
func exprError(what, expression string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeExpression, "%s in %q: %s", what, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
