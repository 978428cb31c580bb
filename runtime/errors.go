package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidMessagePort is returned over the reply channel when a Call
// addresses a handler that the receiving block does not declare.
var ErrInvalidMessagePort = errors.New("invalid message port")

// ValidationError reports an incomplete or malformed flowgraph: unconnected
// required ports, port type mismatches, duplicate or unknown connections.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "flowgraph validation failed: " + e.Detail
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// InitError reports that a block's init hook failed. The flowgraph aborts;
// blocks initialized before the failure are deinitialized.
type InitError struct {
	Block BlockId
	Name  string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init of %s (%s) failed: %v", e.Name, e.Block, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// RuntimeError reports blocks that terminated with an error or panicked.
// Partial success is allowed: blocks absent from Errors finished cleanly.
type RuntimeError struct {
	Errors map[BlockId]error
}

func (e *RuntimeError) Error() string {
	ids := make([]int, 0, len(e.Errors))
	for id := range e.Errors {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var b strings.Builder
	b.WriteString("flowgraph finished with errors:")
	for _, id := range ids {
		fmt.Fprintf(&b, " %s: %v;", BlockId(id), e.Errors[BlockId(id)])
	}
	return strings.TrimSuffix(b.String(), ";")
}
