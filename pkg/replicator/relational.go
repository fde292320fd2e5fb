package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ReplicaRow is the relational replica's row shape: one row per
// (resource, record), the latest document as JSON.
type ReplicaRow struct {
	Resource  string `gorm:"primaryKey;size:190"`
	RecordID  string `gorm:"primaryKey;size:190;column:record_id"`
	Document  string
	UpdatedAt time.Time
}

// relationalDriver upserts mutations into a replica table via gorm.
type relationalDriver struct {
	db    *gorm.DB
	table string
}

// OpenRelational opens a gorm handle for a replica sink. Supported
// dialects: sqlite (file path or :memory:) and postgres (DSN).
func OpenRelational(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("replicator: unsupported relational dialect %q", dialect)
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// NewRelational returns the relational driver, migrating the replica
// table if needed.
func NewRelational(db *gorm.DB, table string) (Driver, error) {
	if table == "" {
		table = "s3db_replica"
	}
	if err := db.Table(table).AutoMigrate(&ReplicaRow{}); err != nil {
		return nil, fmt.Errorf("migrate replica table %q: %w", table, err)
	}
	return &relationalDriver{db: db, table: table}, nil
}

func (d *relationalDriver) Name() string { return "relational" }

func (d *relationalDriver) Apply(ctx context.Context, e Entry) error {
	tx := d.db.WithContext(ctx).Table(d.table)

	if e.Op == OpDelete {
		return tx.Where("resource = ? AND record_id = ?", e.Resource, e.RecordID).
			Delete(&ReplicaRow{}).Error
	}

	doc, err := json.Marshal(e.Record)
	if err != nil {
		return fmt.Errorf("marshal replica document: %w", err)
	}
	row := ReplicaRow{
		Resource:  e.Resource,
		RecordID:  e.RecordID,
		Document:  string(doc),
		UpdatedAt: time.Now().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource"}, {Name: "record_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}
