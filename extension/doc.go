// Package extension provides the run-time type registry that lets node
// runtimes attach Go types to their declared output schemas. The template
// validator consults the registry when a node signature was derived from a
// registered type rather than written by hand.
package extension
