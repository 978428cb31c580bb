package runtime

import "go.uber.org/zap"

// BlockMeta carries block metadata: the type name, an optional instance
// name, and the block-scoped logger.
type BlockMeta struct {
	name     string
	instance string
	active   bool
	log      *zap.SugaredLogger
}

func newBlockMeta(name string) *BlockMeta {
	return &BlockMeta{
		name:   name,
		active: true,
		log:    zap.NewNop().Sugar(),
	}
}

// Name returns the block type name.
func (m *BlockMeta) Name() string {
	return m.name
}

// InstanceName returns the per-flowgraph instance name, falling back to the
// type name when none was set.
func (m *BlockMeta) InstanceName() string {
	if m.instance == "" {
		return m.name
	}
	return m.instance
}

// SetInstanceName sets the per-flowgraph instance name.
func (m *BlockMeta) SetInstanceName(name string) {
	m.instance = name
}

// Active reports whether the block is still participating in dispatch.
func (m *BlockMeta) Active() bool {
	return m.active
}

// Log returns the block-scoped logger.
func (m *BlockMeta) Log() *zap.SugaredLogger {
	return m.log
}
