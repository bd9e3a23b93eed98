// Package syncplanner builds the replication tool's command line and parses
// its output for a transferred-volume figure. build is a pure function —
// identical inputs always produce identical output (P7) — and is the one
// place in the system where byte-for-byte compatibility with the original
// tool's command shape matters (§6).
package syncplanner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// HostEndpoint describes one side of a replication (source or destination)
// as SyncPlanner needs to see it: nil Host means "local to the executor".
type HostEndpoint struct {
	Host           string // empty means local
	User           string
	Port           int
	PrivateKeyPath string
}

func (e HostEndpoint) remote() bool {
	return e.Host != ""
}

// Build constructs the replication command line for job between src and
// dst. It is a pure function of its three arguments.
func Build(job *store.Job, src, dst HostEndpoint) string {
	parts := []string{"syncoid"}

	if job.Recursive {
		parts = append(parts, "--recursive")
	}
	if job.CompressTag != "" && job.CompressTag != "none" {
		parts = append(parts, fmt.Sprintf("--compress=%s", job.CompressTag))
	}
	if job.BufferSize != "" {
		parts = append(parts, fmt.Sprintf("--mbuffer-size=%s", job.BufferSize))
	}
	if job.NoSyncSnap {
		parts = append(parts, "--no-sync-snap")
	}
	if job.ForceDelete {
		parts = append(parts, "--force-delete")
	}

	// Credential hints are chosen from whichever endpoint is remote;
	// destination wins if both are remote.
	if dst.remote() {
		parts = append(parts, fmt.Sprintf("--sshkey=%s", dst.PrivateKeyPath))
		if dst.Port != 0 && dst.Port != 22 {
			parts = append(parts, fmt.Sprintf("--sshport=%d", dst.Port))
		}
	} else if src.remote() {
		parts = append(parts, fmt.Sprintf("--sshkey=%s", src.PrivateKeyPath))
		if src.Port != 0 && src.Port != 22 {
			parts = append(parts, fmt.Sprintf("--sshport=%d", src.Port))
		}
	}

	if job.ExtraArgs != "" {
		parts = append(parts, job.ExtraArgs)
	}

	parts = append(parts, endpointArg(src, job.SourceDataset))
	parts = append(parts, endpointArg(dst, job.DestDataset))

	return strings.Join(parts, " ")
}

func endpointArg(ep HostEndpoint, dataset string) string {
	if ep.remote() {
		return fmt.Sprintf("%s@%s:%s", ep.User, ep.Host, dataset)
	}
	return dataset
}

// transferPatterns mirrors the three output-parsing regexes exactly,
// case-insensitive, tried in order.
var transferPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?[KMGT]i?B?)\s+transferred`),
	regexp.MustCompile(`(?i)sent\s+(\d+(?:\.\d+)?[KMGT]i?B?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?[KMGT]i?B?)\s+total`),
}

// ParseTransferred scans combined stdout+stderr for the first match of the
// three transfer-volume patterns and returns that substring, or "" if none
// match (P8). Duration is measured by the caller, not parsed here.
func ParseTransferred(combinedOutput string) string {
	for _, pattern := range transferPatterns {
		if m := pattern.FindStringSubmatch(combinedOutput); m != nil {
			return m[1]
		}
	}
	return ""
}
