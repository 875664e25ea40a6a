package analysis

import "context"

// NoopAnalyzer reports no issues for every note. Used in development when
// no analysis endpoint is configured.
type NoopAnalyzer struct{}

func (NoopAnalyzer) Analyze(_ context.Context, _ string) (*Result, error) {
	return &Result{IssuesFound: false, Reason: "analysis disabled"}, nil
}
