// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoIncludesVersionAndCommit(t *testing.T) {
	info := Info()
	if !strings.HasPrefix(info, Version+" (") {
		t.Errorf("Info() = %q, want prefix %q", info, Version+" (")
	}
	if !strings.Contains(info, GitCommit) {
		t.Errorf("Info() = %q, missing commit %q", info, GitCommit)
	}
}

func TestInfoMarksDirtyTree(t *testing.T) {
	previous := GitDirty
	GitDirty = "true"
	defer func() { GitDirty = previous }()

	if info := Info(); !strings.Contains(info, "-dirty") {
		t.Errorf("Info() = %q, want -dirty marker", info)
	}
}

func TestFullIncludesPlatform(t *testing.T) {
	if full := Full(); !strings.Contains(full, "Platform: ") {
		t.Errorf("Full() = %q, missing platform line", full)
	}
}
