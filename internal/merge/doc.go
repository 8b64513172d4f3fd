// Package merge implements the structural three-way merge used by the
// version conflict resolver.
//
// Diffs are path-addressed (nested objects and positional array
// indexes) and computed by r3labs/diff; the merge policy on top is
// local-wins-on-overlap: where both sides changed the same path, the
// non-nil local value takes precedence over the remote one.
package merge
