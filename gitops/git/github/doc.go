// Package github implements git.Connector and git.Provider on the GitHub REST
// API (cloud or enterprise) using google/go-github. Tokens are attached with an
// oauth2 static token source. Repository identifiers are repository names under
// the configured owner.
package github
