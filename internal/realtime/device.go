package realtime

import (
	"context"
	"errors"
	"fmt"

	"orderstack-kds/internal/storage"

	"github.com/google/uuid"
)

const deviceIDKey = "kds:device_id"

// DeviceID returns the terminal's stable identifier, generating and storing
// one on first use.
func DeviceID(ctx context.Context, kv storage.KV) (string, error) {
	raw, err := kv.Get(ctx, deviceIDKey)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := kv.Put(ctx, deviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}
