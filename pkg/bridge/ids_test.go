// Copyright 2025-2026 spore.ink

package bridge

import (
	"testing"
)

func TestVirtualLocalpartRoundTrip(t *testing.T) {
	t.Parallel()
	ids := []int64{0, 1, 42, 123456789, -7, 9223372036854775807}
	seen := make(map[string]int64, len(ids))
	for _, id := range ids {
		localpart := VirtualLocalpart(id)
		if prev, dup := seen[localpart]; dup {
			t.Errorf("VirtualLocalpart(%d) collides with VirtualLocalpart(%d): %q", id, prev, localpart)
		}
		seen[localpart] = id
		got, ok := ParseAliasLocalpart(localpart)
		if !ok || got != id {
			t.Errorf("ParseAliasLocalpart(%q) = (%d, %v), want (%d, true)", localpart, got, ok, id)
		}
	}
}

func TestRoomAlias(t *testing.T) {
	t.Parallel()
	if got := RoomAlias(123456789, "example.com"); got != "#_qq_123456789:example.com" {
		t.Errorf("RoomAlias(123456789, example.com) = %q", got)
	}
}

func TestParseAliasLocalpart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		localpart string
		wantID    int64
		wantOK    bool
	}{
		{"group", "_qq_123456789", 123456789, true},
		{"zero", "_qq_0", 0, true},
		{"no prefix", "alice", 0, false},
		{"prefix only", "_qq_", 0, false},
		{"non-numeric suffix", "_qq_alice", 0, false},
		{"trailing garbage", "_qq_12x", 0, false},
		{"wrong prefix", "_tg_123", 0, false},
		{"empty", "", 0, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			id, ok := ParseAliasLocalpart(test.localpart)
			if id != test.wantID || ok != test.wantOK {
				t.Errorf("ParseAliasLocalpart(%q) = (%d, %v), want (%d, %v)",
					test.localpart, id, ok, test.wantID, test.wantOK)
			}
			if IsVirtualLocalpart(test.localpart) != test.wantOK {
				t.Errorf("IsVirtualLocalpart(%q) = %v, want %v", test.localpart, !test.wantOK, test.wantOK)
			}
		})
	}
}
