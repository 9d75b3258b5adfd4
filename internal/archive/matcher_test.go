// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package archive

import "testing"

func TestMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]string{"logs", "*.tmp", "./world/session.lock", "cache/**", "plugins/"})
	if err != nil {
		t.Fatalf("NewMatcher() failed: %v", err)
	}

	tests := []struct {
		rel  string
		want bool
	}{
		{"logs", true},
		{"world/logs", true},
		{"a.tmp", true},
		{"deep/nested/b.tmp", true},
		{"world/session.lock", true},
		{"other/session.lock", false},
		{"cache/x/y.bin", true},
		{"plugins", true},
		{"level.dat", false},
		{"logsbook.txt", false},
		{"world/region/r.0.0.mca", false},
	}

	for _, tt := range tests {
		if got := m.Match(tt.rel); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestMatcherEmpty(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher(nil) failed: %v", err)
	}
	if m.Match("anything") {
		t.Error("empty matcher should match nothing")
	}
}
