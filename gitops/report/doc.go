// Package report renders a reconciliation Result for the
// operator, as a sectioned text summary or as JSON or YAML
// documents.
package report
