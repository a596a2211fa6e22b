package optimizer

import "strings"

// stopwords are dropped during query rewriting. The list is intentionally
// small: aggressive pruning hurts keyword recall more than it helps the
// vector side.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {},
}

// expansions maps common shorthand onto the long form the corpus actually
// contains. Both forms are kept so exact matches still rank first.
var expansions = map[string]string{
	"db":     "database",
	"k8s":    "kubernetes",
	"config": "configuration",
	"auth":   "authentication",
	"docs":   "documents",
	"repo":   "repository",
	"env":    "environment",
}

// Rewrite normalizes a query for execution: lowercases, strips stopwords
// and expands known shorthand. A query that would become empty is returned
// unchanged so pathological inputs still reach the engines.
func Rewrite(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
		if long, ok := expansions[f]; ok {
			out = append(out, long)
		}
	}
	if len(out) == 0 {
		return query
	}
	return strings.Join(out, " ")
}
