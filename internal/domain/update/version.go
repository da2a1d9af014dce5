package update

// Scheme identifies a versioning scheme. Descriptors of different schemes are not comparable.
type Scheme int

const (
	// SchemeTimestamp is the legacy YYYY-MM-DD_HH_MM scheme.
	SchemeTimestamp Scheme = iota + 1
	// SchemeReleaseTag is the dotted date tag scheme with an optional pre-release suffix.
	SchemeReleaseTag
)

// String returns the scheme name used in logs and configuration.
func (s Scheme) String() string {
	switch s {
	case SchemeTimestamp:
		return "timestamp"
	case SchemeReleaseTag:
		return "release"
	default:
		return "unknown"
	}
}

// VersionDescriptor is a version identity within one scheme.
type VersionDescriptor struct {
	Scheme Scheme
	Value  string
}

// Comparable reports whether both descriptors belong to the same scheme.
func (v VersionDescriptor) Comparable(other VersionDescriptor) bool {
	return v.Scheme == other.Scheme
}

// String returns the version value.
func (v VersionDescriptor) String() string {
	return v.Value
}

// ArtifactReference points at a remote artifact and its local file name.
type ArtifactReference struct {
	URL      string
	Filename string
	Hash     string
}

// CheckResult is the outcome of an update check.
type CheckResult struct {
	Available bool
	Version   *VersionDescriptor
	Artifact  *ArtifactReference
}

// NoUpdate is the result for "nothing newer available".
func NoUpdate() CheckResult {
	return CheckResult{}
}

// Found builds a positive result.
func Found(version VersionDescriptor, artifact ArtifactReference) CheckResult {
	return CheckResult{
		Available: true,
		Version:   &version,
		Artifact:  &artifact,
	}
}

// DownloadOutcome describes a completed download.
type DownloadOutcome struct {
	// Path is the verified local path.
	Path string
	// Skipped is set when the artifact was already present.
	Skipped bool
	// Bytes is the number of bytes written by this call.
	Bytes int64
}
