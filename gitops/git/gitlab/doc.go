// Package gitlab implements git.Connector and git.Provider on the GitLab REST
// API with gitlab.com/gitlab-org/api/client-go. Merge requests stand in for
// pull requests; repository identifiers are project paths or numeric ids.
package gitlab
