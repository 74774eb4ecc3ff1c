package main

import (
	"path/filepath"
	"testing"
)

func TestUnderDir(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "home", "u", ".frozen-duckdb", "cache")
	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "v1.4.0-arm64", "libduckdb_arm64.so"), true},
		{filepath.Join(root+"2", "v1.4.0-arm64", "libduckdb_arm64.so"), false},
		{filepath.Join(string(filepath.Separator), "home", "u", "elsewhere", "libduckdb.so"), false},
		{filepath.Dir(root), false},
	}
	for _, c := range cases {
		if got := underDir(root, c.path); got != c.want {
			t.Fatalf("underDir(%s, %s) = %v, want %v", root, c.path, got, c.want)
		}
	}
}
