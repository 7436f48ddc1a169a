// Package vstore implements the virtual store dispatcher: query, subscription
// and publication routing over a set of attached mounts, result iteration,
// event fan-out, and alignment of late subscribers.
package vstore

import (
	"strings"
	"time"

	"github.com/arborstore/arbor/pkg/domain"
)

// HistoryWindow bounds a query to a time range of prior samples.
type HistoryWindow struct {
	FromNow     bool
	FromTime    time.Time
	ToNow       bool
	ToTime      time.Time
	ForDuration time.Duration
	SLimit      int
	SOffset     int
}

// IsZero reports whether no history bounds were requested.
func (w HistoryWindow) IsZero() bool {
	return !w.FromNow && w.FromTime.IsZero() && !w.ToNow && w.ToTime.IsZero() &&
		w.ForDuration == 0 && w.SLimit == 0 && w.SOffset == 0
}

// Query accumulates the fields of a select or subscribe request.
type Query struct {
	Expr        string
	From        string
	ContentType string
	Offset      int
	Limit       int
	Type        string
	Instanceof  string
	Instance    domain.EntityID
	MountID     domain.EntityID
	History     HistoryWindow

	// YieldUnknown lets unknown placeholder results coexist with concrete
	// ones instead of being deduplicated away. It applies only to the live
	// branch of a query; a historical window never synthesizes placeholders,
	// since a placeholder has no history to project.
	YieldUnknown bool
}

// AbsoluteFrom resolves the query scope against a current-scope path,
// returning a canonical absolute path.
func (q *Query) AbsoluteFrom(current string) string {
	from := q.From
	if !strings.HasPrefix(from, "/") {
		base := strings.TrimSuffix(current, "/")
		if base == "" {
			base = "/"
		}
		if from == "" {
			from = base
		} else if base == "/" {
			from = "/" + from
		} else {
			from = base + "/" + from
		}
	}
	if from == "" {
		from = "/"
	}
	return canonical(from)
}

func canonical(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return "/" + strings.Trim(p, "/")
}

// MatchPattern matches a relative identifier against a select expression.
// Expressions are "/"-separated; "*" matches any run of characters within a
// single path component, "?" matches a single character, and "//" at the
// end of an expression matches any depth below the preceding components.
func MatchPattern(pattern, id string) bool {
	pattern = strings.Trim(pattern, "/")
	id = strings.Trim(id, "/")
	if pattern == "" {
		return id == ""
	}

	recursive := strings.HasSuffix(pattern, "//")
	if recursive {
		pattern = strings.TrimSuffix(pattern, "//")
	}

	pcomps := strings.Split(pattern, "/")
	icomps := strings.Split(id, "/")

	if recursive {
		if len(icomps) < len(pcomps) {
			return false
		}
	} else if len(icomps) != len(pcomps) {
		return false
	}
	for i, pc := range pcomps {
		if !matchSegment(pc, icomps[i]) {
			return false
		}
	}
	return true
}

func matchSegment(pattern, s string) bool {
	p := []rune(pattern)
	r := []rune(s)
	return segMatch(p, r)
}

func segMatch(p, s []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			if segMatch(p[1:], s) {
				return true
			}
			if len(s) == 0 {
				return false
			}
			s = s[1:]
		case '?':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

// scopeOverlaps reports whether a mount anchored at mountFrom can serve any
// part of a query scoped at queryFrom — either contains the other.
func scopeOverlaps(mountFrom, queryFrom string) bool {
	m := canonical(mountFrom)
	q := canonical(queryFrom)
	return isUnder(m, q) || isUnder(q, m)
}

// isUnder reports whether path is inside (or equal to) ancestor.
func isUnder(path, ancestor string) bool {
	if ancestor == "/" {
		return true
	}
	return path == ancestor || strings.HasPrefix(path, ancestor+"/")
}

// relativeTo rewrites an absolute path to be relative to base, returning
// "" when path equals base.
func relativeTo(path, base string) string {
	p := canonical(path)
	b := canonical(base)
	if b == "/" {
		return strings.TrimPrefix(p, "/")
	}
	if p == b {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, b), "/")
}

// specificity orders mounts by how deep their anchor scope is: more
// components, more specific, queried first.
func specificity(from string) int {
	c := canonical(from)
	if c == "/" {
		return 0
	}
	return strings.Count(c, "/")
}
