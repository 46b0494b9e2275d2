// Package pgtest 提供基于内存 SQLite 的仓储测试客户端
package pgtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-pipeline-api/internal/infrastructure/persistence/postgres"
)

// NewClient 每个测试独立的内存库，已完成迁移
func NewClient(t testing.TB) *postgres.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	client, err := postgres.NewClientWithDB(db)
	require.NoError(t, err)
	require.NoError(t, client.Migrate(context.Background()))
	return client
}
