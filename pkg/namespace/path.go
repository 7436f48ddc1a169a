package namespace

import (
	"strings"
	"unicode/utf8"

	"github.com/arborstore/arbor/pkg/errors"
)

// Path is a parsed namespace path: "/"-separated,
// leading "/" is absolute, no leading "/" is relative to a caller-supplied
// base scope.
type Path struct {
	Absolute   bool
	Components []string
}

// ParsePath splits a raw path string into components, validating every
// identifier: UTF-8, no "/", no NUL byte.
func ParsePath(raw string) (Path, error) {
	absolute := strings.HasPrefix(raw, "/")
	trimmed := strings.Trim(raw, "/")
	var comps []string
	if trimmed != "" {
		comps = strings.Split(trimmed, "/")
	}
	for _, c := range comps {
		if err := ValidateIdentifier(c); err != nil {
			return Path{}, err
		}
	}
	return Path{Absolute: absolute, Components: comps}, nil
}

// ValidateIdentifier checks a single path component: UTF-8, case-sensitive,
// disallows "/" (impossible post-split, kept for defense on raw input) and
// the null character. Empty identifiers are valid — they name anonymous
// objects.
func ValidateIdentifier(name string) error {
	if name == "" {
		return nil
	}
	if !utf8.ValidString(name) {
		return errors.New(errors.InvalidArgument, "path.go", 0, "identifier is not valid UTF-8")
	}
	if strings.ContainsRune(name, '/') {
		return errors.New(errors.InvalidArgument, "path.go", 0, "identifier may not contain '/'")
	}
	if strings.ContainsRune(name, 0) {
		return errors.New(errors.InvalidArgument, "path.go", 0, "identifier may not contain NUL")
	}
	return nil
}

// String renders the path back to its canonical form.
func (p Path) String() string {
	s := strings.Join(p.Components, "/")
	if p.Absolute {
		return "/" + s
	}
	return s
}
