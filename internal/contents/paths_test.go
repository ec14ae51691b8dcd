package contents

import "testing"

func TestPaths(t *testing.T) {
	joins := []struct{ path, name, want string }{
		{"", "a.ipynb", "a.ipynb"},
		{"/docs/", "a.ipynb", "docs/a.ipynb"},
		{"docs/sub", "", "docs/sub"},
		{"", "", ""},
	}
	for _, tc := range joins {
		if got := JoinPath(tc.path, tc.name); got != tc.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tc.path, tc.name, got, tc.want)
		}
	}

	splits := []struct{ full, path, name string }{
		{"a.ipynb", "", "a.ipynb"},
		{"/docs/sub/a.ipynb", "docs/sub", "a.ipynb"},
		{"", "", ""},
	}
	for _, tc := range splits {
		path, name := SplitPath(tc.full)
		if path != tc.path || name != tc.name {
			t.Errorf("SplitPath(%q) = (%q, %q), want (%q, %q)", tc.full, path, name, tc.path, tc.name)
		}
	}
}

func TestCompareIDs(t *testing.T) {
	if compareIDs("2", "10") >= 0 {
		t.Error("numeric ids must sort by value")
	}
	if compareIDs("9", "abc") >= 0 {
		t.Error("numeric ids sort before others")
	}
}
