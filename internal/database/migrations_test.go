package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/tsudoi-app/tsudoi/backend/internal/circles"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tsudoi_db_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return db
}

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{
		"user_identities",
		"circles",
		"circle_members",
		"join_requests",
		"events",
		"event_slots",
		"event_responses",
		"db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}
}

func TestMigrationsRecordedOnce(t *testing.T) {
	db := openTestDB(t)

	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationLowercaseInviteCodes).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected migration recorded once, got %d", count)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("re-applying migrations failed: %v", err)
	}
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationLowercaseInviteCodes).Count(&count).Error; err != nil {
		t.Fatalf("failed to recount migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected migration to stay recorded once, got %d", count)
	}
}

func TestLowercaseInviteCodeMigrationNormalizesRows(t *testing.T) {
	db := openTestDB(t)

	circle := circles.Circle{
		ID:         "circle-1",
		Name:       "test",
		OwnerID:    "user-1",
		InviteCode: "AB12CD",
	}
	if err := db.Create(&circle).Error; err != nil {
		t.Fatalf("failed to seed circle: %v", err)
	}

	if err := lowercaseInviteCodes(db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	var stored circles.Circle
	if err := db.Where("id = ?", "circle-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load circle: %v", err)
	}
	if stored.InviteCode != "ab12cd" {
		t.Fatalf("expected lowercase invite code, got %q", stored.InviteCode)
	}
}
