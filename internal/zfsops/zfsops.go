// Package zfsops is a thin typed wrapper over remote `zfs` invocations:
// listing datasets and snapshots, and creating/destroying snapshots. Every
// method shells out through a Runner and parses the resulting tab-separated
// rows — it holds no state of its own and performs no caching.
package zfsops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ridgeline-systems/zvault/internal/remoteexec"
)

// Endpoint and Result are aliased from remoteexec so callers assembling a
// zfsops.ZFSOps don't need to import both packages for the same types.
type Endpoint = remoteexec.Endpoint
type Result = remoteexec.Result

// Runner is the subset of remoteexec.Pool that ZFSOps depends on, extracted
// as an interface so it can be exercised against a fake in tests.
type Runner interface {
	Run(ctx context.Context, ep Endpoint, cmd string, timeout time.Duration) (Result, error)
}

const defaultTimeout = 30 * time.Second

// Dataset is one row from `zfs list`.
type Dataset struct {
	Name       string
	Used       string
	Avail      string
	Mountpoint string
}

// Snapshot is one row from `zfs list -t snapshot`.
type Snapshot struct {
	Name    string // full name, e.g. "tank/vms@auto-2026-07-31"
	Used    string
	Creation string
}

// ZFSOps executes zfs commands against one Endpoint at a time via Runner.
type ZFSOps struct {
	runner Runner
}

// New constructs a ZFSOps backed by runner.
func New(runner Runner) *ZFSOps {
	return &ZFSOps{runner: runner}
}

// ListDatasets returns every dataset visible on ep.
func (z *ZFSOps) ListDatasets(ctx context.Context, ep Endpoint) ([]Dataset, error) {
	cmd := `zfs list -H -o name,used,avail,mountpoint`
	res, err := z.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("zfsops: listing datasets on %s: %w", ep.Host, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("zfsops: zfs list exited %d on %s: %s", res.ExitCode, ep.Host, res.Stderr)
	}

	var datasets []Dataset
	for _, line := range splitLines(res.Stdout) {
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		datasets = append(datasets, Dataset{
			Name:       fields[0],
			Used:       fields[1],
			Avail:      fields[2],
			Mountpoint: fields[3],
		})
	}
	return datasets, nil
}

// ListSnapshots returns snapshots on ep, optionally scoped to a dataset and
// its descendants (`zfs list -r`). If dataset is empty, every snapshot on
// the host is returned.
func (z *ZFSOps) ListSnapshots(ctx context.Context, ep Endpoint, dataset string) ([]Snapshot, error) {
	cmd := `zfs list -H -t snapshot -o name,used,creation`
	if dataset != "" {
		cmd = fmt.Sprintf(`zfs list -H -t snapshot -o name,used,creation -r %s`, shellQuote(dataset))
	}

	res, err := z.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("zfsops: listing snapshots on %s: %w", ep.Host, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("zfsops: zfs list -t snapshot exited %d on %s: %s", res.ExitCode, ep.Host, res.Stderr)
	}

	var snapshots []Snapshot
	for _, line := range splitLines(res.Stdout) {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Name:     fields[0],
			Used:     fields[1],
			Creation: fields[2],
		})
	}
	return snapshots, nil
}

// CreateSnapshot creates a snapshot named dataset@name, recursively if
// recursive is set.
func (z *ZFSOps) CreateSnapshot(ctx context.Context, ep Endpoint, dataset, name string, recursive bool) error {
	flag := ""
	if recursive {
		flag = "-r "
	}
	cmd := fmt.Sprintf("zfs snapshot %s%s@%s", flag, shellQuote(dataset), shellQuote(name))

	res, err := z.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return fmt.Errorf("zfsops: creating snapshot %s@%s on %s: %w", dataset, name, ep.Host, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("zfsops: zfs snapshot exited %d on %s: %s", res.ExitCode, ep.Host, res.Stderr)
	}
	return nil
}

// DestroySnapshot destroys a snapshot given its full name (dataset@name).
func (z *ZFSOps) DestroySnapshot(ctx context.Context, ep Endpoint, fullName string) error {
	cmd := fmt.Sprintf("zfs destroy %s", shellQuote(fullName))

	res, err := z.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return fmt.Errorf("zfsops: destroying snapshot %s on %s: %w", fullName, ep.Host, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("zfsops: zfs destroy exited %d on %s: %s", res.ExitCode, ep.Host, res.Stderr)
	}
	return nil
}

// CreateDataset ensures a dataset exists, creating parent datasets as
// needed (`zfs create -p`). Used by the Executor's best-effort pre-flight
// step (§4.6 step 3) — failures here are logged but non-fatal.
func (z *ZFSOps) CreateDataset(ctx context.Context, ep Endpoint, dataset string) error {
	cmd := fmt.Sprintf("zfs create -p %s", shellQuote(dataset))

	res, err := z.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return fmt.Errorf("zfsops: creating dataset %s on %s: %w", dataset, ep.Host, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("zfsops: zfs create -p exited %d on %s: %s", res.ExitCode, ep.Host, res.Stderr)
	}
	return nil
}

// DatasetExists checks for a dataset's presence on ep without listing all
// datasets.
func (z *ZFSOps) DatasetExists(ctx context.Context, ep Endpoint, dataset string) (bool, error) {
	cmd := fmt.Sprintf("zfs list -H -o name %s 2>/dev/null", shellQuote(dataset))
	res, err := z.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return false, fmt.Errorf("zfsops: checking dataset %s on %s: %w", dataset, ep.Host, err)
	}
	return res.ExitCode == 0, nil
}

// ParentDataset returns the parent of a ZFS dataset path, or "" if dataset
// has no parent (is a pool root).
func ParentDataset(dataset string) string {
	idx := strings.LastIndex(dataset, "/")
	if idx < 0 {
		return ""
	}
	return dataset[:idx]
}

// RootPool returns the pool name a dataset path lives under — the first
// path component, e.g. "tank" for "tank/backup/vms".
func RootPool(dataset string) string {
	idx := strings.Index(dataset, "/")
	if idx < 0 {
		return dataset
	}
	return dataset[:idx]
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
