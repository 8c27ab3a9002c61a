// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"strings"

	"github.com/google/uuid"
)

// RandomClientID generates a client ID that every MQTT v5 broker must accept:
// 23 alphanumeric characters.
func RandomClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:23]
}
