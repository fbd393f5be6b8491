package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weibaohui/pleroma/backend/internal/model"
)

func TestInitDBSqlite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "app.db")
	db, err := InitDB("sqlite", dsn)
	require.NoError(t, err)

	for _, table := range []interface{}{&model.Syllabus{}, &model.Lesson{}, &model.GenerationJob{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}
	assert.True(t, db.Migrator().HasIndex(&model.Lesson{}, "idx_lesson_syllabus_idx"))
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("oracle", "x")
	assert.Error(t, err)
}
