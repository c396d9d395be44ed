// Package types contains the lowest-level shared types of the engine:
// the error taxonomy, agent definitions, and the minimal execution
// interfaces. It has no dependencies on other orchestral packages, so
// every other package can import it without creating cycles.
package types
