package checksum

import (
	"errors"
	"os"
	"strings"
)

// Comparator decides whether a local file matches a candidate.
type Comparator struct{}

// NewComparator returns a comparator using DefaultFunction.
func NewComparator() *Comparator {
	return &Comparator{}
}

// MatchesDigest compares the local file with a remote-provided digest.
// A missing local file never matches.
func (c *Comparator) MatchesDigest(localPath, remoteDigest string) (bool, error) {
	local, err := localDigest(localPath)
	if err != nil || local == "" {
		return false, err
	}

	return strings.EqualFold(local, strings.TrimSpace(remoteDigest)), nil
}

// MatchesFile compares the local file with a downloaded candidate.
// A missing local file never matches; a missing candidate is an error.
func (c *Comparator) MatchesFile(localPath, candidatePath string) (bool, error) {
	candidate, err := FileDigest(candidatePath)
	if err != nil {
		return false, err
	}

	return c.MatchesDigest(localPath, candidate)
}

// localDigest returns an empty digest when the file does not exist.
func localDigest(path string) (string, error) {
	digest, err := FileDigest(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	return digest, err
}
