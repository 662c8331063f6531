package pthread

import (
	"context"

	"go.uber.org/zap"
)

// MaxNameLen is the longest thread name kept, matching the Linux limit of
// 16 bytes including the terminator.
const MaxNameLen = 15

// SetName names thread h. Longer names are truncated to MaxNameLen bytes.
// The host OS thread is renamed too when the platform supports it.
func (m *Manager) SetName(ctx context.Context, h uint32, name string) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}

	t.nameMu.Lock()
	t.name = name
	t.nameMu.Unlock()

	tid := t.TID()
	if tid == 0 {
		// Not started yet; bootstrap applies the name.
		return nil
	}
	if ThreadFrom(ctx) == t {
		err = setOSName(name)
	} else {
		err = setOSNameOf(tid, name)
	}
	if err != nil {
		m.log.Debug("rename host thread failed", zap.Uint32("thread", h), zap.Error(err))
	}
	return nil
}

// Name returns the name of thread h.
func (m *Manager) Name(h uint32) (string, error) {
	t, err := m.lookup(h)
	if err != nil {
		return "", err
	}
	return t.Name(), nil
}
