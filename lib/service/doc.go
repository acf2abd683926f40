// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package service holds the HTTP listener lifecycle shared by the
// server binary and its tests: bind, signal readiness, serve until the
// context ends, then drain.
package service
