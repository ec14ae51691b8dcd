package contents

import "strings"

// NormalizePath strips leading and trailing slashes. The root is "".
func NormalizePath(p string) string {
	return strings.Trim(p, "/")
}

// JoinPath joins a directory path and a leaf name.
func JoinPath(path, name string) string {
	path, name = NormalizePath(path), NormalizePath(name)
	switch {
	case path == "":
		return name
	case name == "":
		return path
	default:
		return path + "/" + name
	}
}

// SplitPath splits a full path into its directory path and leaf name.
func SplitPath(full string) (path, name string) {
	full = NormalizePath(full)
	i := strings.LastIndex(full, "/")
	if i < 0 {
		return "", full
	}
	return full[:i], full[i+1:]
}
