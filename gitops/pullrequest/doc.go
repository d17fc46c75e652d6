// Package pullrequest decides whether a pull request for a source/target pair
// is already open and creates one when it is not.
//
// Existence is structural: an open pull request into the target counts when its
// source ref is the source branch, or any staging branch derived from it, or
// when its description carries the marker block naming the source. Creation
// stages the latest source commit on a fresh staging branch and opens the pull
// request from there. A duplicate reported by the hosting API is a success.
package pullrequest
