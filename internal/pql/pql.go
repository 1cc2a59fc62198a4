// Package pql defines the boundary between the gateway's write-coordination
// core and the query/filter language the rest of the service compiles
// independently. The core does not parse PQL itself (it evaluates only the
// glob patterns compiled by CompileGlobs); it calls Expr.Matches at the
// points the File-Scan Service and job filters need a yes/no answer. Grounded on the type shape of
// gateway/src/pql/model.rs's Match enum, kept deliberately opaque here.
package pql

import "path/filepath"

// Stage identifies which point in the scan pipeline a predicate is being
// evaluated at, since some predicates are cheap (path/size/mtime) and
// others require content already having been hashed.
type Stage int

const (
	// StageMetadata runs before a file is opened or hashed.
	StageMetadata Stage = iota
	// StageContent runs after a file's hash and basic media metadata are
	// known.
	StageContent
)

// Candidate is the minimal information a compiled filter needs to decide
// whether a file should be processed or kept, without the core knowing
// anything about the filter syntax that produced the decision.
type Candidate struct {
	Path     string
	SizeHint int64
	MimeHint string
	SHA256   string
	MD5      string
}

// Expr is an already-compiled filter predicate. Apart from Always, Never
// and CompileGlobs below, implementations come from the query layer
// outside this core.
type Expr interface {
	Matches(stage Stage, candidate Candidate) bool
}

// Always is the trivial Expr that accepts everything, used where the core
// needs a non-nil filter but no configuration supplied one.
var Always Expr = alwaysMatch{}

type alwaysMatch struct{}

func (alwaysMatch) Matches(Stage, Candidate) bool { return true }

// Never rejects everything, useful for tests exercising the rejection path.
var Never Expr = neverMatch{}

type neverMatch struct{}

func (neverMatch) Matches(Stage, Candidate) bool { return false }

// CompileGlobs is the one concrete Expr this package builds for itself: a
// SystemConfig's job_filters/filescan_filter entries are shell glob
// patterns (filepath.Match syntax) rather than real PQL, so they need no
// external compiler. A candidate matches if its path matches any pattern.
func CompileGlobs(patterns []string) Expr {
	return globSet{patterns: append([]string(nil), patterns...)}
}

type globSet struct {
	patterns []string
}

func (g globSet) Matches(_ Stage, c Candidate) bool {
	for _, p := range g.patterns {
		if ok, err := filepath.Match(p, c.Path); err == nil && ok {
			return true
		}
	}
	return false
}
