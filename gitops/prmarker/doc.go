// Package prmarker generates and parses a source marker embedded in pull
// request descriptions. The block is wrapped in HTML comments so hosting UIs
// hide it, and lets the pull request manager recognise pull requests it
// opened even when the staging branch name cannot be parsed.
package prmarker
