// Package branch answers branch questions for the reconciler: exact-match
// existence, change detection between a source and a target branch, and the
// tip commit of a branch. It also creates the staging branch a pull request is
// opened from. An existing staging branch is never reused or moved; the caller
// gets a *StagingExistsError and the operator gets instructions to clear it.
package branch
