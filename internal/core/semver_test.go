package core

import "testing"

func TestParseSemVerArbitraryComponentCounts(t *testing.T) {
	tests := []struct {
		raw  string
		want []int64
		pre  string
	}{
		{"1", []int64{1}, ""},
		{"1.2", []int64{1, 2}, ""},
		{"1.2.3", []int64{1, 2, 3}, ""},
		{"1.2.3.4", []int64{1, 2, 3, 4}, ""},
		{"1.2.3-beta.1", []int64{1, 2, 3}, "beta.1"},
		{"1.2.3+build.7", []int64{1, 2, 3}, ""},
		{"1.2.3-rc.1+build.7", []int64{1, 2, 3}, "rc.1"},
	}
	for _, test := range tests {
		got, err := parseSemVer(test.raw)
		if err != nil {
			t.Fatalf("parseSemVer(%q) error = %v", test.raw, err)
		}
		if len(got.components) != len(test.want) {
			t.Fatalf("parseSemVer(%q) components = %v, want %v", test.raw, got.components, test.want)
		}
		for i, c := range test.want {
			if got.components[i] != c {
				t.Fatalf("parseSemVer(%q) components = %v, want %v", test.raw, got.components, test.want)
			}
		}
		if got.prerelease != test.pre {
			t.Fatalf("parseSemVer(%q) prerelease = %q, want %q", test.raw, got.prerelease, test.pre)
		}
	}
}

func TestParseSemVerRejectsMalformed(t *testing.T) {
	bad := []string{"", "a.b.c", "1..2", "1.-2", ".1.2"}
	for _, raw := range bad {
		if _, err := parseSemVer(raw); err == nil {
			t.Fatalf("parseSemVer(%q) expected an error", raw)
		}
	}
}

func TestCmpSemVerZeroPadsShorterVersion(t *testing.T) {
	a, _ := parseSemVer("1.2")
	b, _ := parseSemVer("1.2.0")
	if cmpSemVer(a, b) != 0 {
		t.Fatalf("1.2 should equal 1.2.0 when zero-padded")
	}
}

func TestCmpSemVerPrereleaseSortsBeforeRelease(t *testing.T) {
	pre, _ := parseSemVer("1.2.3-rc.1")
	rel, _ := parseSemVer("1.2.3")
	if cmpSemVer(pre, rel) >= 0 {
		t.Fatal("a prerelease version should sort before the same version with no prerelease")
	}
	if cmpSemVer(rel, pre) <= 0 {
		t.Fatal("comparison should be antisymmetric")
	}
}

func TestCompareSemVerOperators(t *testing.T) {
	mustParse := func(s string) semVer {
		v, err := parseSemVer(s)
		if err != nil {
			t.Fatalf("parseSemVer(%q) error = %v", s, err)
		}
		return v
	}

	tests := []struct {
		left, op, right string
		want            bool
	}{
		{"1.2.3", "=", "1.2.3", true},
		{"1.2.3", "!=", "1.2.4", true},
		{"1.2.3", "<", "1.3.0", true},
		{"1.3.0", "<", "1.2.3", false},
		{"1.2.3", "<=", "1.2.3", true},
		{"1.2.4", ">", "1.2.3", true},
		{"1.2.3", ">=", "1.2.3", true},
		{"1.2.3", "^", "1.0.0", true},
		{"2.0.0", "^", "1.0.0", false},
		{"1.5.0", "^", "1.9.0", false},
		{"1.2.5", "~", "1.2.0", true},
		{"1.3.0", "~", "1.2.0", false},
	}
	for _, test := range tests {
		got, err := compareSemVer(mustParse(test.left), test.op, mustParse(test.right))
		if err != nil {
			t.Fatalf("compareSemVer(%q, %q, %q) error = %v", test.left, test.op, test.right, err)
		}
		if got != test.want {
			t.Fatalf("compareSemVer(%q, %q, %q) = %v, want %v", test.left, test.op, test.right, got, test.want)
		}
	}
}

func TestCompareSemVerUnknownOperator(t *testing.T) {
	a, _ := parseSemVer("1.0.0")
	if _, err := compareSemVer(a, "%", a); err == nil {
		t.Fatal("expected an error for an unrecognized sem_ver operator")
	}
}
