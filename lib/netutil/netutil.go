// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities for the orchestrator.
//
// ReadResponse bounds all response body reads at MaxResponseSize to
// prevent unbounded memory allocation from a misbehaving server. It is
// intended for JSON API responses (the Matrix client-server API), not
// for streaming responses or large binary downloads.
package netutil

import (
	"fmt"
	"io"
)

// MaxResponseSize is the bound on JSON API response body reads: 256 MB.
// This exists solely to prevent a pathological response from exhausting
// system memory. Legitimate JSON API responses are orders of magnitude
// smaller; the limit is intentionally generous so that it never
// interferes with normal operation.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads an HTTP response body, bounded at MaxResponseSize.
// Returns an error if the body exceeds the bound.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d byte limit", MaxResponseSize)
	}
	return data, nil
}
