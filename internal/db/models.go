package db

import (
	"time"

	"gorm.io/datatypes"
)

// Source maps linkwire.sources.
type Source struct {
	SourceID        string     `gorm:"column:source_id;type:text;primaryKey"`
	SourceUUID      string     `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name            string     `gorm:"column:name;type:text;not null"`
	Kind            string     `gorm:"column:kind;type:text;not null;default:manual"`
	FeedURL         *string    `gorm:"column:feed_url;type:text"`
	BaseDomain      *string    `gorm:"column:base_domain;type:text"`
	IncludeOwnLinks bool       `gorm:"column:include_own_links;type:boolean;not null;default:false"`
	Enabled         bool       `gorm:"column:enabled;type:boolean;not null;default:true"`
	LastPolledAt    *time.Time `gorm:"column:last_polled_at;type:timestamptz"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "linkwire.sources" }

// Link maps linkwire.links. One row per canonical URL.
type Link struct {
	LinkID                int64          `gorm:"column:link_id;primaryKey;autoIncrement"`
	LinkUUID              string         `gorm:"column:link_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	CanonicalURL          string         `gorm:"column:canonical_url;type:text;not null;uniqueIndex:links_canonical_url_key"`
	OriginalURL           string         `gorm:"column:original_url;type:text;not null"`
	Domain                string         `gorm:"column:domain;type:text;not null;default:''"`
	Title                 string         `gorm:"column:title;type:text;not null;default:''"`
	FallbackTitle         string         `gorm:"column:fallback_title;type:text;not null;default:''"`
	FallbackTitleSource   string         `gorm:"column:fallback_title_source;type:text;not null;default:''"`
	Description           string         `gorm:"column:description;type:text;not null;default:''"`
	ImageURL              string         `gorm:"column:image_url;type:text;not null;default:''"`
	Author                string         `gorm:"column:author;type:text;not null;default:''"`
	PublishedAt           *time.Time     `gorm:"column:published_at;type:timestamptz"`
	Language              string         `gorm:"column:language;type:text;not null;default:''"`
	EnrichmentStatus      string         `gorm:"column:enrichment_status;type:text;not null;default:pending"`
	EnrichmentSource      string         `gorm:"column:enrichment_source;type:text;not null;default:''"`
	EnrichmentRetryCount  int            `gorm:"column:enrichment_retry_count;type:integer;not null;default:0"`
	EnrichmentLastAttempt *time.Time     `gorm:"column:enrichment_last_attempt;type:timestamptz"`
	EnrichmentError       *string        `gorm:"column:enrichment_error;type:text"`
	IsBlocked             bool           `gorm:"column:is_blocked;type:boolean;not null;default:false"`
	BlockedReason         *string        `gorm:"column:blocked_reason;type:text"`
	AIMetadata            datatypes.JSON `gorm:"column:ai_metadata;type:jsonb"`
	Embedding             datatypes.JSON `gorm:"column:embedding;type:jsonb"`
	EmbeddingGeneratedAt  *time.Time     `gorm:"column:embedding_generated_at;type:timestamptz"`
	EmbeddingLastAttempt  *time.Time     `gorm:"column:embedding_last_attempt;type:timestamptz"`
	FirstSeenAt           time.Time      `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt            time.Time      `gorm:"column:last_seen_at;type:timestamptz;not null"`
	CreatedAt             time.Time      `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Link) TableName() string { return "linkwire.links" }

// Mention maps linkwire.mentions. Unique per (link, source, ingest batch).
type Mention struct {
	MentionID int64     `gorm:"column:mention_id;primaryKey;autoIncrement"`
	LinkID    int64     `gorm:"column:link_id;type:bigint;not null;uniqueIndex:mentions_link_source_batch_key,priority:1"`
	SourceID  string    `gorm:"column:source_id;type:text;not null;uniqueIndex:mentions_link_source_batch_key,priority:2"`
	BatchID   string    `gorm:"column:batch_id;type:uuid;not null;uniqueIndex:mentions_link_source_batch_key,priority:3"`
	SeenAt    time.Time `gorm:"column:seen_at;type:timestamptz;not null"`
	Context   *string   `gorm:"column:context;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Mention) TableName() string { return "linkwire.mentions" }

// Story maps linkwire.stories.
type Story struct {
	StoryID     int64     `gorm:"column:story_id;primaryKey;autoIncrement"`
	StoryUUID   string    `gorm:"column:story_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title       string    `gorm:"column:title;type:text;not null"`
	Narrative   *string   `gorm:"column:narrative;type:text"`
	FirstLinkAt time.Time `gorm:"column:first_link_at;type:timestamptz;not null"`
	LastLinkAt  time.Time `gorm:"column:last_link_at;type:timestamptz;not null"`
	Status      string    `gorm:"column:status;type:text;not null;default:active"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Story) TableName() string { return "linkwire.stories" }

// StoryLink maps linkwire.story_links. A link belongs to at most one story.
type StoryLink struct {
	StoryID    int64     `gorm:"column:story_id;type:bigint;primaryKey"`
	LinkID     int64     `gorm:"column:link_id;type:bigint;primaryKey;unique"`
	AttachedAt time.Time `gorm:"column:attached_at;type:timestamptz;not null;default:now()"`
}

func (StoryLink) TableName() string { return "linkwire.story_links" }

// BlocklistEntry maps linkwire.blocklist_entries.
type BlocklistEntry struct {
	EntryID   int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	EntryType string    `gorm:"column:entry_type;type:text;not null;uniqueIndex:blocklist_entries_type_pattern_key,priority:1"`
	Pattern   string    `gorm:"column:pattern;type:text;not null;uniqueIndex:blocklist_entries_type_pattern_key,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (BlocklistEntry) TableName() string { return "linkwire.blocklist_entries" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&Link{},
		&Mention{},
		&Story{},
		&StoryLink{},
		&BlocklistEntry{},
	}
}
