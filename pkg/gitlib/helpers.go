package gitlib

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrRemoteNotSupported is returned when a remote repository URI is provided.
var ErrRemoteNotSupported = errors.New("remote repositories not supported")

var scpLikeURI = regexp.MustCompile(`^[A-Za-z]\w*@[A-Za-z0-9][\w.]*:`)

// DiscoverRepository opens the repository containing dir, searching parent
// directories like git does. Remote URIs are rejected.
func DiscoverRepository(dir string) (*Repository, error) {
	if strings.Contains(dir, "://") || scpLikeURI.MatchString(dir) {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotSupported, dir)
	}

	path, err := git2go.Discover(dir, false, nil)
	if err != nil {
		return nil, fmt.Errorf("discover repository from %s: %w", dir, err)
	}

	return OpenRepository(path)
}
