// Package reconciler drives one pass over a fleet of repositories.
//
// Authenticate loops until the hosting API accepts a credential. A rejected
// credential, including one answered with 203 Non-Authoritative Information, is
// discarded and a fresh one is requested.
//
// Classify sorts every repository into one outcome: NeedsPR, NoChanges or
// ExistingPR. A repository lacking its source or target branch produces one
// MissingBranch outcome per absent branch instead. Repositories are evaluated
// over a bounded worker pool; each repository's own checks stay sequential and
// the Result keeps the configured order.
//
// Run chains authentication, classification, reporting, an operator
// confirmation and sequential pull request creation.
package reconciler
