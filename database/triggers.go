package database

import (
	"fmt"

	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/utils"
	"gorm.io/gorm"
)

type storedTrigger struct {
	Name  string
	Table string
}

// rosterTables are the tables whose changes are captured in code.
func rosterTables() []string {
	return []string{models.ShiftEntry{}.TableName(), models.BreakEntry{}.TableName()}
}

// ListRosterTriggers returns database triggers attached to the roster tables.
func ListRosterTriggers(db *gorm.DB) ([]storedTrigger, error) {
	var triggers []storedTrigger
	var err error

	switch db.Dialector.Name() {
	case "sqlite":
		err = db.Raw(`
			SELECT name AS name, tbl_name AS "table"
			FROM sqlite_master
			WHERE type = 'trigger' AND tbl_name IN ?`, rosterTables()).Scan(&triggers).Error
	case "mysql":
		err = db.Raw(`
			SELECT TRIGGER_NAME AS name, EVENT_OBJECT_TABLE AS `+"`table`"+`
			FROM information_schema.triggers
			WHERE TRIGGER_SCHEMA = DATABASE() AND EVENT_OBJECT_TABLE IN ?`, rosterTables()).Scan(&triggers).Error
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return triggers, nil
}

// DropLegacyTriggers removes triggers left on the roster tables by a
// trigger-based capture setup. Left in place they would write change rows
// that bypass capture suppression.
func DropLegacyTriggers(db *gorm.DB) (int, error) {
	triggers, err := ListRosterTriggers(db)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, t := range triggers {
		stmt := fmt.Sprintf("DROP TRIGGER IF EXISTS %s", quoteIdent(db, t.Name))
		if err := db.Exec(stmt).Error; err != nil {
			return dropped, fmt.Errorf("drop trigger %s: %w", t.Name, err)
		}
		utils.InfoLogger.Printf("Dropped legacy trigger %s on %s", t.Name, t.Table)
		dropped++
	}
	return dropped, nil
}

func quoteIdent(db *gorm.DB, name string) string {
	if db.Dialector.Name() == "mysql" {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
