package server

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// matchLocations evaluates x against doc and returns every match as a
// slash-delimited location. Sequence elements keep their order; map keys sort.
func matchLocations(x jp.Expr, doc any) []string {
	var out []string
	for _, loc := range x.Locate(doc, 0) {
		out = append(out, toSlashPath(loc))
	}
	sortLocations(out)
	return out
}

// toSlashPath renders a normalized path such as $.rules.behaviors[0] as
// /rules/behaviors/0.
func toSlashPath(x jp.Expr) string {
	var b strings.Builder
	for _, frag := range x {
		switch f := frag.(type) {
		case jp.Child:
			b.WriteByte('/')
			b.WriteString(string(f))
		case jp.Nth:
			b.WriteByte('/')
			b.WriteString(strconv.Itoa(int(f)))
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// sortLocations orders locations segment by segment, comparing indexes
// numerically so /a/2 sorts before /a/10.
func sortLocations(locs []string) {
	sort.SliceStable(locs, func(i, j int) bool {
		a := strings.Split(strings.Trim(locs[i], "/"), "/")
		b := strings.Split(strings.Trim(locs[j], "/"), "/")
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] == b[k] {
				continue
			}
			ai, aerr := strconv.Atoi(a[k])
			bi, berr := strconv.Atoi(b[k])
			if aerr == nil && berr == nil {
				return ai < bi
			}
			return a[k] < b[k]
		}
		return len(a) < len(b)
	})
}
