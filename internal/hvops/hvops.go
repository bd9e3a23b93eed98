// Package hvops is the only component allowed to mutate hypervisor
// (Proxmox VE) state. It wraps `qm`/`pct`/`pvesm` invocations behind
// a small guest-kind-polymorphic interface, and the Executor always goes
// through it rather than shelling out directly.
package hvops

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ridgeline-systems/zvault/internal/remoteexec"
	"github.com/ridgeline-systems/zvault/internal/store"
)

// Endpoint and Result are aliased from remoteexec, mirroring zfsops.
type Endpoint = remoteexec.Endpoint
type Result = remoteexec.Result

// Runner is the subset of remoteexec.Pool that HVOps depends on.
type Runner interface {
	Run(ctx context.Context, ep Endpoint, cmd string, timeout time.Duration) (Result, error)
}

const defaultTimeout = 30 * time.Second

// Guest is one entry from the combined qm/pct listing.
type Guest struct {
	Kind   store.GuestKind
	ID     int
	Name   string
	Status string
}

// Disk is one parsed disk line from a guest's configuration.
type Disk struct {
	DiskName   string // e.g. "scsi0", "mp0"
	Storage    string
	Volume     string
	Dataset    string // resolved via `pvesm path`, empty if unresolved
	SizeBytes  int64
	SizeHuman  string
}

// guestKindOps isolates the three points where qm/pct commands and config
// conventions diverge, selected per call by opsFor via a switch on GuestKind —
// everything else in HVOps is guest-kind-agnostic.
type guestKindOps interface {
	CLIBinary() string
	ConfigPath(id int) string
	DiskLinePattern() *regexp.Regexp
}

type vmOps struct{}

func (vmOps) CLIBinary() string    { return "qm" }
func (vmOps) ConfigPath(id int) string { return fmt.Sprintf("/etc/pve/qemu-server/%d.conf", id) }
func (vmOps) DiskLinePattern() *regexp.Regexp {
	return regexp.MustCompile(`(?m)^((?:scsi|sata|virtio|ide)\d+):\s*(\S+?):(\S+?)(?:,|$)`)
}

type containerOps struct{}

func (containerOps) CLIBinary() string        { return "pct" }
func (containerOps) ConfigPath(id int) string { return fmt.Sprintf("/etc/pve/lxc/%d.conf", id) }
func (containerOps) DiskLinePattern() *regexp.Regexp {
	return regexp.MustCompile(`(?m)^((?:rootfs|mp)\d*):\s*(\S+?):(\S+?)(?:,|$)`)
}

func opsFor(kind store.GuestKind) (guestKindOps, error) {
	switch kind {
	case store.GuestKindVM:
		return vmOps{}, nil
	case store.GuestKindContainer:
		return containerOps{}, nil
	default:
		return nil, fmt.Errorf("hvops: unknown guest kind %q", kind)
	}
}

// HVOps mutates and inspects hypervisor guest state on one Endpoint at a
// time via Runner.
type HVOps struct {
	runner Runner
}

// New constructs an HVOps backed by runner.
func New(runner Runner) *HVOps {
	return &HVOps{runner: runner}
}

// ListGuests enumerates both full VMs and containers on ep, combining
// `qm list` and `pct list`.
func (h *HVOps) ListGuests(ctx context.Context, ep Endpoint) ([]Guest, error) {
	vms, err := h.listVMs(ctx, ep)
	if err != nil {
		return nil, err
	}
	containers, err := h.listContainers(ctx, ep)
	if err != nil {
		return nil, err
	}
	return append(vms, containers...), nil
}

func (h *HVOps) listVMs(ctx context.Context, ep Endpoint) ([]Guest, error) {
	res, err := h.runner.Run(ctx, ep, "qm list 2>/dev/null | tail -n +2", defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("hvops: listing VMs on %s: %w", ep.Host, err)
	}

	var guests []Guest
	for _, line := range splitLines(res.Stdout) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		guests = append(guests, Guest{Kind: store.GuestKindVM, ID: id, Name: fields[1], Status: fields[2]})
	}
	return guests, nil
}

func (h *HVOps) listContainers(ctx context.Context, ep Endpoint) ([]Guest, error) {
	res, err := h.runner.Run(ctx, ep, "pct list 2>/dev/null | tail -n +2", defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("hvops: listing containers on %s: %w", ep.Host, err)
	}

	var guests []Guest
	for _, line := range splitLines(res.Stdout) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		name := fmt.Sprintf("CT%d", id)
		if len(fields) >= 4 {
			name = fields[3]
		}
		guests = append(guests, Guest{Kind: store.GuestKindContainer, ID: id, Name: name, Status: fields[1]})
	}
	return guests, nil
}

// ReadConfig returns a guest's raw configuration file contents, read from
// its conventional path under the hypervisor config root.
func (h *HVOps) ReadConfig(ctx context.Context, ep Endpoint, kind store.GuestKind, id int) (string, error) {
	ops, err := opsFor(kind)
	if err != nil {
		return "", err
	}

	res, err := h.runner.Run(ctx, ep, fmt.Sprintf("cat %s", ops.ConfigPath(id)), defaultTimeout)
	if err != nil {
		return "", fmt.Errorf("hvops: reading config for guest %d on %s: %w", id, ep.Host, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("hvops: reading config for guest %d on %s exited %d: %s", id, ep.Host, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// ListDisks parses a guest's configuration for disk lines (VM-style
// `scsi0: <storage>:<vol>,size=…` or container-style `mp0: <storage>:<vol>,mp=…`),
// resolves each `<storage>:<vol>` to an on-disk dataset via `pvesm path`, and
// reads the dataset's size in bytes via `zfs get`.
func (h *HVOps) ListDisks(ctx context.Context, ep Endpoint, kind store.GuestKind, id int) ([]Disk, error) {
	ops, err := opsFor(kind)
	if err != nil {
		return nil, err
	}

	config, err := h.ReadConfig(ctx, ep, kind, id)
	if err != nil {
		return nil, err
	}

	matches := ops.DiskLinePattern().FindAllStringSubmatch(config, -1)

	var disks []Disk
	for _, m := range matches {
		diskName, storage, volume := m[1], m[2], m[3]
		lowerVol := strings.ToLower(volume)
		if strings.Contains(lowerVol, "cloudinit") || strings.Contains(lowerVol, "none") {
			continue
		}

		disk := Disk{DiskName: diskName, Storage: storage, Volume: volume}

		pathRes, err := h.runner.Run(ctx, ep, fmt.Sprintf("pvesm path %s:%s 2>/dev/null", storage, volume), defaultTimeout)
		if err == nil && pathRes.ExitCode == 0 && strings.TrimSpace(pathRes.Stdout) != "" {
			path := strings.TrimSpace(pathRes.Stdout)
			dataset := resolveDatasetFromPath(path)
			if dataset != "" {
				disk.Dataset = dataset

				sizeRes, err := h.runner.Run(ctx, ep,
					fmt.Sprintf("zfs get -Hp -o value used,volsize,referenced %s 2>/dev/null | head -1", dataset),
					defaultTimeout)
				if err == nil && sizeRes.ExitCode == 0 {
					if n, convErr := strconv.ParseInt(strings.Fields(strings.TrimSpace(sizeRes.Stdout))[0], 10, 64); convErr == nil {
						disk.SizeBytes = n
						disk.SizeHuman = humanize.Bytes(uint64(n))
					}
				}
			}
		}

		disks = append(disks, disk)
	}
	return disks, nil
}

// resolveDatasetFromPath mirrors the original's path-to-dataset extraction:
// zvol paths are stripped of their /dev/zvol/ prefix, mounted-subvolume
// paths are stripped of their leading slash.
func resolveDatasetFromPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/dev/zvol/"):
		return strings.TrimPrefix(path, "/dev/zvol/")
	case strings.HasPrefix(path, "/"):
		return strings.TrimPrefix(path, "/")
	default:
		return ""
	}
}

// EnsureStorage verifies a ZFS-backed Proxmox storage tag exists on ep,
// creating it idempotently if not. Required before registering a guest
// whose disks live in a non-default dataset.
func (h *HVOps) EnsureStorage(ctx context.Context, ep Endpoint, storageName, zfsPool string) error {
	checkRes, err := h.runner.Run(ctx, ep, fmt.Sprintf("pvesm status -storage %s 2>/dev/null", storageName), defaultTimeout)
	if err != nil {
		return fmt.Errorf("hvops: checking storage %s on %s: %w", storageName, ep.Host, err)
	}
	if checkRes.ExitCode == 0 && strings.Contains(checkRes.Stdout, storageName) {
		return nil
	}

	createRes, err := h.runner.Run(ctx, ep,
		fmt.Sprintf("pvesm add zfspool %s --pool %s --content images,rootdir --sparse 1", storageName, zfsPool),
		defaultTimeout)
	if err != nil {
		return fmt.Errorf("hvops: creating storage %s on %s: %w", storageName, ep.Host, err)
	}
	if createRes.ExitCode != 0 && !strings.Contains(createRes.Stderr, "already exists") {
		return fmt.Errorf("hvops: creating storage %s on %s failed: %s", storageName, ep.Host, createRes.Stderr)
	}
	return nil
}

// RegisterOpts carries the registration parameters the Executor assembles
// from a Job after a successful replication run.
type RegisterOpts struct {
	Kind           store.GuestKind
	ID             int
	ConfigContent  string // the source guest's raw config, fetched by the caller via ReadConfig on the source Endpoint
	SourceStorage  string
	DestStorage    string
	DestZFSPool    string // non-empty triggers EnsureStorage before writing the config
}

// Register materializes a replicated guest on a destination Node: refuses
// if the guest ID is already present, ensures the destination storage tag,
// writes the guest config with storage-tag substitution, then verifies by
// status query. This is the real substitution logic from the original's
// register_vm — not the scheduler-level stub, which never performed a
// mapping either (see DESIGN.md).
func (h *HVOps) Register(ctx context.Context, ep Endpoint, opts RegisterOpts) error {
	ops, err := opsFor(opts.Kind)
	if err != nil {
		return err
	}

	inUse, err := h.guestInUse(ctx, ep, opts.ID)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("hvops: guest %d already in use on %s", opts.ID, ep.Host)
	}

	if opts.DestStorage != "" && opts.DestZFSPool != "" {
		if err := h.EnsureStorage(ctx, ep, opts.DestStorage, opts.DestZFSPool); err != nil {
			return fmt.Errorf("hvops: ensuring destination storage: %w", err)
		}
	}

	if opts.ConfigContent != "" {
		content := opts.ConfigContent
		// Literal storage-tag substitution: "<source_tag>:" -> "<dest_tag>:",
		// a wire-compatibility point (§6) — must match byte-for-byte, not a
		// best-effort rewrite.
		if opts.SourceStorage != "" && opts.DestStorage != "" && opts.SourceStorage != opts.DestStorage {
			content = strings.ReplaceAll(content, opts.SourceStorage+":", opts.DestStorage+":")
		}

		configPath := ops.ConfigPath(opts.ID)
		writeCmd := fmt.Sprintf("mkdir -p $(dirname %s) && cat > %s << 'ZVAULT_GUEST_CONF_EOF'\n%s\nZVAULT_GUEST_CONF_EOF\n",
			configPath, configPath, content)

		res, err := h.runner.Run(ctx, ep, writeCmd, defaultTimeout)
		if err != nil {
			return fmt.Errorf("hvops: writing config for guest %d on %s: %w", opts.ID, ep.Host, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("hvops: writing config for guest %d on %s failed: %s", opts.ID, ep.Host, res.Stderr)
		}
	}

	verifyRes, err := h.runner.Run(ctx, ep, fmt.Sprintf("%s status %d", ops.CLIBinary(), opts.ID), defaultTimeout)
	if err != nil {
		return fmt.Errorf("hvops: verifying guest %d on %s: %w", opts.ID, ep.Host, err)
	}
	if verifyRes.ExitCode != 0 {
		return fmt.Errorf("hvops: verification failed for guest %d on %s: %s", opts.ID, ep.Host, verifyRes.Stderr)
	}
	return nil
}

func (h *HVOps) guestInUse(ctx context.Context, ep Endpoint, id int) (bool, error) {
	cmd := fmt.Sprintf("qm status %d 2>/dev/null || pct status %d 2>/dev/null", id, id)
	res, err := h.runner.Run(ctx, ep, cmd, defaultTimeout)
	if err != nil {
		return false, fmt.Errorf("hvops: checking guest %d on %s: %w", id, ep.Host, err)
	}
	if res.ExitCode == 0 && (strings.Contains(res.Stdout, "status:") || strings.Contains(res.Stdout, "running") || strings.Contains(res.Stdout, "stopped")) {
		return true, nil
	}
	return false, nil
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
