// Package registry holds the bridge's per-run variable state: the
// descriptor table keyed by variable name and the change-suppression buffer
// that keeps controller writes from echoing back to the controller.
package registry
