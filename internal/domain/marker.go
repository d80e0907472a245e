// Package domain holds the deployment scanner's shared vocabulary: the
// marker-file protocol, the operation model submitted to the management
// facility, and the ports to external collaborators.
package domain

import (
	"path"
	"strings"
)

// Marker file suffixes. A marker is a small sentinel file sitting next to a
// deployment artifact; its suffix encodes intent or recorded state for the
// artifact it names.
const (
	// SuffixDoDeploy is operator-supplied intent: deploy or replace the
	// named artifact. Consumed (deleted) by the scanner once acted on.
	SuffixDoDeploy = ".dodeploy"

	// SuffixDeployed is written by the scanner after a successful deploy.
	// Its modification time is the deployed-state fingerprint.
	SuffixDeployed = ".deployed"

	// SuffixFailedDeploy is written by the scanner after a failed deploy.
	// Its content is the failure detail an operator inspects.
	SuffixFailedDeploy = ".faileddeploy"
)

// MarkerKind classifies a directory entry by marker suffix.
type MarkerKind int

const (
	MarkerNone MarkerKind = iota
	MarkerDoDeploy
	MarkerDeployed
	MarkerFailedDeploy
)

// archiveExtensions are directory extensions treated as leaf artifacts
// rather than sub-trees to recurse into.
var archiveExtensions = map[string]bool{
	".jar":   true,
	".war":   true,
	".ear":   true,
	".rar":   true,
	".sar":   true,
	".beans": true,
}

// ClassifyMarker maps a filename to its marker kind and the deployment name
// the marker refers to (the filename with the suffix stripped). Non-marker
// filenames return MarkerNone and an empty name.
func ClassifyMarker(filename string) (MarkerKind, string) {
	switch {
	case strings.HasSuffix(filename, SuffixDeployed):
		return MarkerDeployed, strings.TrimSuffix(filename, SuffixDeployed)
	case strings.HasSuffix(filename, SuffixDoDeploy):
		return MarkerDoDeploy, strings.TrimSuffix(filename, SuffixDoDeploy)
	case strings.HasSuffix(filename, SuffixFailedDeploy):
		return MarkerFailedDeploy, strings.TrimSuffix(filename, SuffixFailedDeploy)
	}
	return MarkerNone, ""
}

// IsArchiveDirectory reports whether a directory name carries an archive
// extension, marking it as a content unit instead of a container. Both the
// startup registry load and the per-scan walk consume this single rule so
// their recursion never diverges.
func IsArchiveDirectory(name string) bool {
	return archiveExtensions[path.Ext(name)]
}
