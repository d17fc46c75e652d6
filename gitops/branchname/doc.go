// Package branchname generates and parses the names of staging branches.
//
// A Scheme pairs a tag with a time Bucket. Generate and Parse share the same
// layout, so a pull request opened from a staging branch on an earlier day is
// still recognised as belonging to its source branch.
package branchname
