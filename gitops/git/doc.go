// Package git defines the hosting API binding used by the reconciler and the
// value types exchanged with it.
//
// The Provider interface abstracts refs, diffs, commits and pull requests.
// Implementations exist for Azure DevOps, GitHub and GitLab in sub-packages.
// A Connector validates a Credential and returns a Provider bound to it, so
// the credential travels with the session instead of living in shared client
// state. ConnectorFunc lets plain functions satisfy Connector.
package git
