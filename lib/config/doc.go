// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the server's YAML configuration.
//
// The file is named by the --config flag or the SANDBOX_AGENT_CONFIG
// environment variable; without either the server runs on [Default].
// There is no discovery of other locations.
//
// After loading, ${HOME}, ${SANDBOX_AGENT_ROOT} and ${VAR:-default}
// patterns are expanded in path fields and in auth.token. No other
// environment variables override file values.
package config
