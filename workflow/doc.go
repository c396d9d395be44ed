// Package workflow implements the agent orchestration engine: a state
// machine that drives text-generating agents through one of four
// execution topologies (sequential chain, parallel fan-out, classifier
// routing, evaluator-optimizer loop) with shared retry, timeout,
// cancellation, and progress-event plumbing.
//
// A caller builds a Config, constructs the matching executor via the
// NewXxxExecutor constructor (or orchestral.New), and calls Execute.
// Expected failures never surface as Go errors: Execute resolves with a
// terminal status (failed, timeout, cancelled) and a populated error
// field in the result. A non-nil error return indicates programmer
// error only (empty input, malformed config, reuse without Reset).
package workflow
