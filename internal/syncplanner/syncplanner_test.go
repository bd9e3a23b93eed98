package syncplanner

import (
	"strings"
	"testing"

	"github.com/ridgeline-systems/zvault/internal/store"
)

func baseJob() *store.Job {
	return &store.Job{
		SourceDataset: "tank/vms",
		DestDataset:   "tank/backup/vms",
		CompressTag:   "lz4",
		BufferSize:    "128M",
	}
}

func TestBuild_LocalToLocal(t *testing.T) {
	job := baseJob()
	cmd := Build(job, HostEndpoint{}, HostEndpoint{})
	want := "syncoid --compress=lz4 --mbuffer-size=128M tank/vms tank/backup/vms"
	if cmd != want {
		t.Fatalf("got %q, want %q", cmd, want)
	}
}

func TestBuild_PushToRemoteDest(t *testing.T) {
	job := baseJob()
	dst := HostEndpoint{Host: "backup01", User: "root", Port: 22, PrivateKeyPath: "/keys/dst"}
	cmd := Build(job, HostEndpoint{}, dst)
	want := "syncoid --compress=lz4 --mbuffer-size=128M --sshkey=/keys/dst tank/vms root@backup01:tank/backup/vms"
	if cmd != want {
		t.Fatalf("got %q, want %q", cmd, want)
	}
}

func TestBuild_PullFromRemoteSource(t *testing.T) {
	job := baseJob()
	src := HostEndpoint{Host: "prod01", User: "root", Port: 2222, PrivateKeyPath: "/keys/src"}
	cmd := Build(job, src, HostEndpoint{})
	want := "syncoid --compress=lz4 --mbuffer-size=128M --sshkey=/keys/src --sshport=2222 root@prod01:tank/vms tank/backup/vms"
	if cmd != want {
		t.Fatalf("got %q, want %q", cmd, want)
	}
}

func TestBuild_BothRemote_DestCredentialsWin(t *testing.T) {
	job := baseJob()
	src := HostEndpoint{Host: "prod01", User: "root", Port: 22, PrivateKeyPath: "/keys/src"}
	dst := HostEndpoint{Host: "backup01", User: "root", Port: 2200, PrivateKeyPath: "/keys/dst"}
	cmd := Build(job, src, dst)
	want := "syncoid --compress=lz4 --mbuffer-size=128M --sshkey=/keys/dst --sshport=2200 root@prod01:tank/vms root@backup01:tank/backup/vms"
	if cmd != want {
		t.Fatalf("got %q, want %q", cmd, want)
	}
}

func TestBuild_AllOptionsInOrder(t *testing.T) {
	job := baseJob()
	job.Recursive = true
	job.NoSyncSnap = true
	job.ForceDelete = true
	job.ExtraArgs = "--identifier=nightly"

	cmd := Build(job, HostEndpoint{}, HostEndpoint{})
	want := "syncoid --recursive --compress=lz4 --mbuffer-size=128M --no-sync-snap --force-delete --identifier=nightly tank/vms tank/backup/vms"
	if cmd != want {
		t.Fatalf("got %q, want %q", cmd, want)
	}
}

func TestBuild_CompressNoneOmitsFlag(t *testing.T) {
	job := baseJob()
	job.CompressTag = "none"
	cmd := Build(job, HostEndpoint{}, HostEndpoint{})
	if strings.Contains(cmd, "compress") {
		t.Fatalf("expected no --compress flag when tag is none, got %q", cmd)
	}
}

func TestBuild_IsPure(t *testing.T) {
	job := baseJob()
	src := HostEndpoint{Host: "prod01", User: "root", Port: 22, PrivateKeyPath: "/keys/src"}
	dst := HostEndpoint{}
	first := Build(job, src, dst)
	second := Build(job, src, dst)
	if first != second {
		t.Fatalf("Build is not pure: %q != %q", first, second)
	}
}

func TestParseTransferred_Transferred(t *testing.T) {
	if got := ParseTransferred("sending incremental stream\n1.5G transferred in 30 seconds"); got != "1.5G" {
		t.Fatalf("got %q", got)
	}
}

func TestParseTransferred_Sent(t *testing.T) {
	if got := ParseTransferred("sent 512MB  received 140 bytes"); got != "512MB" {
		t.Fatalf("got %q", got)
	}
}

func TestParseTransferred_Total(t *testing.T) {
	if got := ParseTransferred("size is 2.1T total"); got != "2.1T" {
		t.Fatalf("got %q", got)
	}
}

func TestParseTransferred_NoMatch(t *testing.T) {
	if got := ParseTransferred("no useful information here"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
