package models

import (
	"fmt"
	"path"
	"strings"
)

// Coordinates identify an artifact within a repository layout and map
// deterministically to a slash-separated path relative to the repository root.
type Coordinates interface {
	Path() string
	String() string
}

// RawCoordinates address an artifact directly by its relative path.
type RawCoordinates struct {
	RelPath string
}

func (c RawCoordinates) Path() string   { return c.RelPath }
func (c RawCoordinates) String() string { return c.RelPath }

// MavenCoordinates follow the maven2 repository layout.
type MavenCoordinates struct {
	GroupID    string
	ArtifactID string
	Version    string
	Classifier string
	Extension  string
}

// Path returns group/as/dirs/artifact/version/artifact-version[-classifier].ext
func (c MavenCoordinates) Path() string {
	ext := c.Extension
	if ext == "" {
		ext = "jar"
	}
	file := c.ArtifactID + "-" + c.Version
	if c.Classifier != "" {
		file += "-" + c.Classifier
	}
	file += "." + ext
	return path.Join(strings.ReplaceAll(c.GroupID, ".", "/"), c.ArtifactID, c.Version, file)
}

// String returns group:artifact:version[:classifier]:extension.
func (c MavenCoordinates) String() string {
	parts := []string{c.GroupID, c.ArtifactID, c.Version}
	if c.Classifier != "" {
		parts = append(parts, c.Classifier)
	}
	ext := c.Extension
	if ext == "" {
		ext = "jar"
	}
	return strings.Join(append(parts, ext), ":")
}

// ParseCoordinates maps a relative path back to coordinates for the given
// layout. Unknown layouts are treated as raw.
func ParseCoordinates(layout, relPath string) (Coordinates, error) {
	relPath = strings.TrimPrefix(path.Clean("/"+relPath), "/")
	switch layout {
	case LayoutMaven2:
		return parseMaven(relPath)
	default:
		return RawCoordinates{RelPath: relPath}, nil
	}
}

func parseMaven(relPath string) (Coordinates, error) {
	segs := strings.Split(relPath, "/")
	if len(segs) < 4 {
		return nil, fmt.Errorf("%w: %q is not a maven2 artifact path", ErrConfiguration, relPath)
	}
	n := len(segs)
	artifactID, version, file := segs[n-3], segs[n-2], segs[n-1]

	prefix := artifactID + "-" + version
	if !strings.HasPrefix(file, prefix) {
		return nil, fmt.Errorf("%w: %q does not match %s/%s", ErrConfiguration, file, artifactID, version)
	}
	rest := strings.TrimPrefix(file, prefix)

	c := MavenCoordinates{
		GroupID:    strings.Join(segs[:n-3], "."),
		ArtifactID: artifactID,
		Version:    version,
	}
	switch {
	case strings.HasPrefix(rest, "."):
		c.Extension = rest[1:]
	case strings.HasPrefix(rest, "-"):
		classifier, ext, ok := strings.Cut(rest[1:], ".")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no extension", ErrConfiguration, file)
		}
		c.Classifier, c.Extension = classifier, ext
	default:
		return nil, fmt.Errorf("%w: %q has no extension", ErrConfiguration, file)
	}
	return c, nil
}
