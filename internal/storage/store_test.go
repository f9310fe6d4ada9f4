package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilStoreNotConfigured(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if err := s.AppendSample(ctx, ArbitrageSample{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置连接池时应返回 ErrNotConfigured, 实际 %v", err)
	}
	if _, err := s.ListSamplesBetween(ctx, time.Now(), time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatal("ListSamplesBetween 应返回 ErrNotConfigured")
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatal("TryAdvisoryLock 应返回 ErrNotConfigured")
	}
	s.Close()
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("读取内嵌迁移失败: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_init.sql" {
		t.Fatalf("首个迁移应为 0001_init.sql, 实际 %v", names)
	}
	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil || len(data) == 0 {
		t.Fatal("迁移文件内容为空")
	}
}
