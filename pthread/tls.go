package pthread

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/errno"
)

type tlsKey struct {
	inUse      bool
	destructor uint32
}

// KeyCreate allocates a TLS key. destructor is a guest function table
// index, or 0 for none.
func (m *Manager) KeyCreate(destructor uint32) (uint32, error) {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	for i := range m.keys {
		if !m.keys[i].inUse {
			m.keys[i] = tlsKey{inUse: true, destructor: destructor}
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("all %d keys in use: %w", MaxKeys, errno.EAGAIN)
}

// KeyDelete frees key. Values threads stored under it become unreachable
// but are not cleared and their destructor no longer runs.
func (m *Manager) KeyDelete(key uint32) error {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	if key >= MaxKeys || !m.keys[key].inUse {
		return fmt.Errorf("delete key %d: %w", key, errno.EINVAL)
	}
	m.keys[key] = tlsKey{}
	return nil
}

func (m *Manager) checkKey(key uint32) error {
	if key >= MaxKeys {
		return fmt.Errorf("key %d out of range: %w", key, errno.EINVAL)
	}
	m.keysMu.Lock()
	inUse := m.keys[key].inUse
	m.keysMu.Unlock()
	if !inUse {
		return fmt.Errorf("key %d not allocated: %w", key, errno.EINVAL)
	}
	return nil
}

// SetSpecific stores value under key for the calling thread.
func (m *Manager) SetSpecific(ctx context.Context, key, value uint32) error {
	t := ThreadFrom(ctx)
	if t == nil {
		return errNotManaged
	}
	if err := m.checkKey(key); err != nil {
		return err
	}
	t.tls[key] = value
	return nil
}

// GetSpecific returns the calling thread's value for key.
func (m *Manager) GetSpecific(ctx context.Context, key uint32) (uint32, error) {
	t := ThreadFrom(ctx)
	if t == nil {
		return 0, errNotManaged
	}
	if err := m.checkKey(key); err != nil {
		return 0, err
	}
	return t.tls[key], nil
}

// runDestructors calls each key's destructor once with the thread's
// non-zero value. The slot is cleared before the call.
func (m *Manager) runDestructors(ctx context.Context, t *Thread) {
	m.keysMu.Lock()
	keys := m.keys
	m.keysMu.Unlock()

	for i, k := range keys {
		if !k.inUse || k.destructor == 0 {
			continue
		}
		v := t.tls[i]
		if v == 0 {
			continue
		}
		t.tls[i] = 0
		if err := t.gctx.CallIndirectVoid(ctx, k.destructor, v); err != nil {
			m.log.Warn("tls destructor failed",
				zap.Uint32("thread", t.handle),
				zap.Int("key", i),
				zap.Error(err),
			)
		}
	}
}
