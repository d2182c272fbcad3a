// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package id

import (
	"crypto/rand"
	"fmt"
	"io"
)

// New generates a random 32-character hex ID using crypto/rand.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
