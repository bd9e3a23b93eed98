// Package store is the typed, transactional persistence layer for the
// control plane: nodes, datasets, sync jobs, job logs, notification
// configuration and system configuration. It is backed by GORM over
// either SQLite (single embedded file) or PostgreSQL.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the fields shared by every entity. ID uses UUID v7 so rows
// sort chronologically by primary key without a separate index on CreatedAt.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a time-ordered UUID v7 if one was not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// GuestKind is the closed sum of hypervisor guest types a Job may target.
type GuestKind string

const (
	GuestKindVM        GuestKind = "vm"
	GuestKindContainer GuestKind = "container"
)

// JobStatus mirrors a Job's last observed run status.
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusNone    JobStatus = ""
)

// LogKind distinguishes the operation a JobLog row records.
type LogKind string

const (
	LogKindSync     LogKind = "sync"
	LogKindSnapshot LogKind = "snapshot"
	LogKindManual   LogKind = "manual"
)

// LogStatus is the lifecycle state of a single JobLog row.
type LogStatus string

const (
	LogStatusStarted LogStatus = "started"
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// -----------------------------------------------------------------------------
// Node
// -----------------------------------------------------------------------------

// Node is a managed Proxmox/ZFS host reachable over SSH.
// At most one Node may have IsAuthNode set (enforced by the repository layer,
// see repository/node.go).
type Node struct {
	base
	Name                  string          `gorm:"uniqueIndex;not null"`
	Host                  string          `gorm:"not null"`
	Port                  int             `gorm:"not null;default:22"`
	User                  string          `gorm:"not null;default:'root'"`
	CredentialHandle      EncryptedString `gorm:"type:text;not null"` // path to private key material
	HypervisorAPIEndpoint string          `gorm:"default:''"`
	IsAuthNode            bool            `gorm:"not null;default:false"`
	LastSeenAt            *time.Time
	Online                bool   `gorm:"not null;default:false"`
	ToolPresent           bool   `gorm:"not null;default:false"`
	ToolVersion           string `gorm:"default:''"`
}

// -----------------------------------------------------------------------------
// Dataset
// -----------------------------------------------------------------------------

// Dataset is a cached view of a ZFS dataset living on a Node, refreshed on
// demand rather than continuously polled.
type Dataset struct {
	base
	NodeID            uuid.UUID `gorm:"type:text;not null;index"`
	Path              string    `gorm:"not null;index"` // unique per node, see repository/dataset.go
	UsedStr           string    `gorm:"default:''"`
	AvailStr          string    `gorm:"default:''"`
	SnapshotCount     int       `gorm:"default:0"`
	RetentionHourly   int       `gorm:"default:0"`
	RetentionDaily    int       `gorm:"default:0"`
	RetentionWeekly   int       `gorm:"default:0"`
	RetentionMonthly  int       `gorm:"default:0"`
	RetentionYearly   int       `gorm:"default:0"`
	AutosnapEnabled   bool      `gorm:"not null;default:false"`
	AutopruneEnabled  bool      `gorm:"not null;default:false"`
	TemplateName      string    `gorm:"default:''"`
}

// -----------------------------------------------------------------------------
// Job
// -----------------------------------------------------------------------------

// Job is a declared replication task: a source dataset on a source Node
// replicated to a destination dataset on a destination Node, on a cron
// schedule, with optional post-replication guest-config materialization.
type Job struct {
	base
	Name   string    `gorm:"not null"`
	Active bool      `gorm:"not null"`

	SourceNodeID  uuid.UUID `gorm:"type:text;not null;index"`
	SourceDataset string    `gorm:"not null"`
	DestNodeID    uuid.UUID `gorm:"type:text;not null;index"`
	DestDataset   string    `gorm:"not null"`

	Recursive   bool   `gorm:"not null;default:false"`
	CompressTag string `gorm:"not null;default:'none'"`
	BufferSize  string `gorm:"default:''"`
	NoSyncSnap  bool   `gorm:"not null;default:false"`
	ForceDelete bool   `gorm:"not null;default:false"`
	ExtraArgs   string `gorm:"default:''"`

	Cron string `gorm:"not null"`

	RetryOnFailure    bool `gorm:"not null;default:false"`
	MaxRetries        int  `gorm:"not null;default:0"`
	RetryDelayMinutes int  `gorm:"not null;default:0"`

	SourceGuestID    *int       `gorm:""`
	DestGuestID      *int       `gorm:""`
	GuestKind        GuestKind  `gorm:"default:''"`
	VMGroupID        *uuid.UUID `gorm:"type:text;index"`
	SourceStorageTag string     `gorm:"default:''"`
	DestStorageTag   string     `gorm:"default:''"`
	RegisterVM       bool       `gorm:"not null;default:false"`

	LastRunAt           *time.Time
	LastStatus          JobStatus `gorm:"default:''"`
	LastDurationSeconds float64   `gorm:"default:0"`
	LastTransferred     string    `gorm:"default:''"`
	RunCount            int       `gorm:"not null;default:0"`
	ErrorCount          int       `gorm:"not null;default:0"`
	ConsecutiveFailures int       `gorm:"not null;default:0"`
}

// -----------------------------------------------------------------------------
// JobLog
// -----------------------------------------------------------------------------

// JobLog is one attempt of one Job. Rows are append-only: created at attempt
// start with Status=started and updated exactly once on completion.
type JobLog struct {
	base
	JobID             uuid.UUID `gorm:"type:text;not null;index"`
	Kind              LogKind   `gorm:"not null"`
	NodePairLabel     string    `gorm:"default:''"`
	DatasetPairLabel  string    `gorm:"default:''"`
	Status            LogStatus `gorm:"not null;index"`
	Message           string    `gorm:"type:text;default:''"`
	Stdout            string    `gorm:"type:text;default:''"`
	Stderr            string    `gorm:"type:text;default:''"`
	DurationSeconds   float64   `gorm:"default:0"`
	Transferred       string    `gorm:"default:''"`
	AttemptNumber     int       `gorm:"not null;default:1"`
	StartedAt         time.Time `gorm:"not null;index"`
	CompletedAt       *time.Time
	TriggeredByUserID *uuid.UUID `gorm:"type:text"`
}

// -----------------------------------------------------------------------------
// NotificationConfig (singleton)
// -----------------------------------------------------------------------------

// NotificationConfig holds per-channel settings and trigger flags as explicit
// tagged fields rather than a property bag, per the design note against
// dynamic config objects. There is exactly one row, with a fixed well-known
// ID (see repository/notificationconfig.go).
type NotificationConfig struct {
	base

	SMTPEnabled  bool            `gorm:"not null;default:false"`
	SMTPHost     string          `gorm:"default:''"`
	SMTPPort     int             `gorm:"default:587"`
	SMTPUsername string          `gorm:"default:''"`
	SMTPPassword EncryptedString `gorm:"type:text;default:''"`
	SMTPFrom     string          `gorm:"default:''"`
	SMTPTLS      bool            `gorm:"not null;default:false"`

	WebhookEnabled bool            `gorm:"not null;default:false"`
	WebhookURL     string          `gorm:"default:''"`
	WebhookSecret  EncryptedString `gorm:"type:text;default:''"`

	ChatEnabled    bool            `gorm:"not null;default:false"`
	ChatAPIBaseURL string          `gorm:"default:''"`
	ChatToken      EncryptedString `gorm:"type:text;default:''"`
	ChatChatID     string          `gorm:"default:''"`

	NotifyOnSuccess bool `gorm:"not null;default:true"`
	NotifyOnFailure bool `gorm:"not null;default:true"`
	NotifyOnWarning bool `gorm:"not null;default:true"`
}

// -----------------------------------------------------------------------------
// SystemConfig
// -----------------------------------------------------------------------------

// SystemConfig is a typed, categorized key-value entry. Unlike
// NotificationConfig, this is intentionally a property bag because its keys
// are genuinely open-ended (auth method selection, retention windows, and
// future operator-tunable knobs) — see seedDefaults in db.go for the seeded
// defaults.
type SystemConfig struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	ValueType string          `gorm:"not null;default:'string'"` // "string" | "int" | "bool"
	Category  string          `gorm:"not null;default:'general'"`
	Secret    bool            `gorm:"not null;default:false"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}

// Well-known SystemConfig keys.
const (
	ConfigKeyDigestHour               = "digest_hour"
	ConfigKeyJobLogRetentionDays      = "joblog_retention_days"
	ConfigKeyAuditLogRetentionDays    = "auditlog_retention_days"
	ConfigKeyStaleRunThresholdMinutes = "stale_run_threshold_minutes"
	ConfigKeyAuthMethod               = "auth_method"
	ConfigKeyJobTimeoutSeconds        = "job_timeout_seconds"
)
