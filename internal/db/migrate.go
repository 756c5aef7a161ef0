package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// migrationLockKey serializes migrations when serve and schedule start
// together against an empty database.
const migrationLockKey int64 = 0x6c696e6b77697265 // "linkwire"

type migrationStep struct {
	name string
	run  func(tx *gorm.DB) error
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "pre-automigrate sql", run: execScript(preAutoMigrateSQL)},
		{name: "automigrate models", run: func(tx *gorm.DB) error { return tx.AutoMigrate(autoMigrateModels()...) }},
		{name: "post-automigrate sql", run: execScript(postAutoMigrateSQL)},
	}
}

func execScript(script string) func(tx *gorm.DB) error {
	trimmed := strings.TrimSpace(script)
	return func(tx *gorm.DB) error {
		if trimmed == "" {
			return nil
		}
		return tx.Exec(trimmed).Error
	}
}

// migrate applies every step in one transaction holding an advisory lock.
func (p *Pool) migrate(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	started := time.Now()

	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock($1)", migrationLockKey).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for _, step := range migrationSteps() {
			if err := step.run(tx); err != nil {
				return fmt.Errorf("%s: %w", step.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.log.Debug().Dur("elapsed", time.Since(started)).Msg("schema migrated")
	return nil
}
