// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"encoding/json"
	"fmt"
)

// DecodePayload decodes a record payload into T.
func DecodePayload[T any](payload []byte) (*T, error) {
	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("decoding %T payload: %w", value, err)
	}
	return &value, nil
}
