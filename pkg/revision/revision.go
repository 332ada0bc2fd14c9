// Package revision resolves the source control revision that produced the
// site content, so uploads can be traced back to a commit.
package revision

import (
	git "github.com/go-git/go-git/v5"
)

// Resolve returns the HEAD commit hash of the repository containing dir,
// searching parent directories for the repository root. A directory outside
// any repository returns ok false; that is not an error.
func Resolve(dir string) (string, bool) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", false
	}
	return head.Hash().String(), true
}

// Short abbreviates a revision hash for display.
func Short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
