// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obscuretestdata locates and decodes test fixtures that have been
// base64-obscured so that automated scanners (and Apple's notarization
// service, which otherwise mistakes fixture Mach-O binaries for real
// submissions) don't act on their raw bytes.
package obscuretestdata

import (
	"encoding/base64"
	"fmt"
	"os"
)

// ReadFile reads the named obscured file and returns its decoded contents.
func ReadFile(name string) ([]byte, error) {
	b64, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(string(b64))
}

// DecodeToTempFile decodes the named obscured file to a temporary file and
// returns the absolute path of the temporary file.
func DecodeToTempFile(name string) (string, error) {
	b, err := ReadFile(name)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "obscuretestdata")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	return f.Name(), nil
}
