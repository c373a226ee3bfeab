package pathutil

import (
	"path/filepath"
	"testing"
)

func TestIsEqualOrParent(t *testing.T) {
	sep := string(filepath.Separator)
	root := sep + "proj"

	tests := []struct {
		name       string
		path       string
		parent     string
		ignoreCase bool
		expected   bool
	}{
		{"same path", root, root, false, true},
		{"child", root + sep + "src", root, false, true},
		{"deep child", root + sep + "a" + sep + "b", root, false, true},
		{"parent with trailing separator", root + sep + "src", root + sep, false, true},
		{"sibling sharing prefix", root + "ect", root, false, false},
		{"unrelated", sep + "other", root, false, false},
		{"parent longer than path", root, root + sep + "src", false, false},
		{"case differs, sensitive", sep + "Proj" + sep + "src", root, false, false},
		{"case differs, insensitive", sep + "Proj" + sep + "src", root, true, true},
		{"same path different case, insensitive", sep + "PROJ", root, true, true},
		{"empty path", "", root, false, false},
		{"empty parent", root, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsEqualOrParent(tt.path, tt.parent, tt.ignoreCase)
			if got != tt.expected {
				t.Errorf("IsEqualOrParent(%q, %q, %v) = %v, want %v", tt.path, tt.parent, tt.ignoreCase, got, tt.expected)
			}
		})
	}
}

func TestIsParent(t *testing.T) {
	sep := string(filepath.Separator)
	root := sep + "proj"

	if IsParent(root, root, false) {
		t.Error("a path is not its own parent")
	}
	if IsParent(root+sep, root, false) {
		t.Error("a trailing separator does not make a child")
	}
	if !IsParent(root+sep+"a", root, false) {
		t.Error("expected direct child to be beneath parent")
	}
	if IsParent(sep+"PROJ", root, true) {
		t.Error("case variant of the same path is not a child")
	}
}
