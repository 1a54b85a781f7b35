package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"autoclip/app/database"
	"autoclip/app/model"
	"autoclip/app/task"
	"autoclip/app/utils/mediaclient"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupServiceDB 基于临时文件建一个隔离的测试数据库
func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	database.DB = db
	if err := database.AutoMigrate(); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
	return db
}

func newTestDownloadService(t *testing.T, r *task.Registry) *DownloadService {
	t.Helper()
	cfg := testConfig()
	cfg.Download.Concurrency = 1
	cfg.Download.SaveDir = t.TempDir()
	return NewDownloadService(cfg, testLogger(), r, mediaclient.New(time.Minute))
}

func TestDownloadStartReregistersRows(t *testing.T) {
	db := setupServiceDB(t)
	r := task.NewRegistry(nil, nil)

	rows := []model.DownloadTask{
		{ID: "d1", URL: "https://www.bilibili.com/video/BV1xx411c7mD", Platform: "bilibili", Status: model.DownloadStatusPending},
		{ID: "d2", URL: "https://www.youtube.com/watch?v=abc123", Platform: "youtube", Status: model.DownloadStatusProcessing},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("创建测试记录失败: %v", err)
		}
	}

	s := newTestDownloadService(t, r)
	s.Start()
	defer s.Stop()

	// 等待中和被中断的记录都回到注册表，推送和对账才有落点
	for _, row := range rows {
		st, err := r.Get(row.ID)
		if err != nil {
			t.Fatalf("重启后任务未登记: ID=%s, 错误: %v", row.ID, err)
		}
		if st.Status != task.StatusPending {
			t.Errorf("重新登记的任务状态 = %s, want PENDING", st.Status)
		}
		if st.Kind != task.KindDownload {
			t.Errorf("重新登记的任务类型 = %s, want %s", st.Kind, task.KindDownload)
		}
		if st.Meta["url"] != row.URL {
			t.Errorf("重新登记的任务元数据缺少URL: %v", st.Meta)
		}
	}

	// 被中断的记录同时恢复为等待状态
	var resumed model.DownloadTask
	if err := db.First(&resumed, "id = ?", "d2").Error; err != nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if resumed.Status != model.DownloadStatusPending {
		t.Errorf("中断记录状态 = %s, want pending", resumed.Status)
	}
}

func TestDownloadCancelPendingRow(t *testing.T) {
	db := setupServiceDB(t)
	r := task.NewRegistry(nil, nil)
	s := newTestDownloadService(t, r)

	row := model.DownloadTask{ID: "d1", URL: "https://www.bilibili.com/video/BV1xx411c7mD", Platform: "bilibili", Status: model.DownloadStatusPending}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("创建测试记录失败: %v", err)
	}
	r.Register(row.ID, task.KindDownload, map[string]any{"url": row.URL})

	if err := s.Cancel(row.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	var got model.DownloadTask
	if err := db.First(&got, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if got.Status != model.DownloadStatusFailed {
		t.Errorf("取消后记录状态 = %s, want failed", got.Status)
	}
	if got.ErrorMessage != task.ErrCancelled.Error() {
		t.Errorf("取消原因 = %q, want %q", got.ErrorMessage, task.ErrCancelled.Error())
	}

	st, err := r.Get(row.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if st.Status != task.StatusFail || st.Error != task.ErrCancelled.Error() {
		t.Errorf("注册表镜像 = %s/%s, want FAIL/%s", st.Status, st.Error, task.ErrCancelled.Error())
	}
}

func TestDownloadCancelClaimedRowWithoutWorker(t *testing.T) {
	db := setupServiceDB(t)
	r := task.NewRegistry(nil, nil)
	s := newTestDownloadService(t, r)

	// 下载中但取消函数已摘除：工作者刚收尾，记录即将落终态
	row := model.DownloadTask{ID: "d1", URL: "https://www.bilibili.com/video/BV1xx411c7mD", Platform: "bilibili", Status: model.DownloadStatusProcessing}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("创建测试记录失败: %v", err)
	}
	r.Register(row.ID, task.KindDownload, map[string]any{"url": row.URL})

	if err := s.Cancel(row.ID); !errors.Is(err, task.ErrInvalidTransition) {
		t.Errorf("Cancel = %v, want ErrInvalidTransition", err)
	}

	// 下载中的行不能被取消方改写，收尾归工作者
	var got model.DownloadTask
	if err := db.First(&got, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if got.Status != model.DownloadStatusProcessing {
		t.Errorf("记录状态被取消方改写: %s", got.Status)
	}
}

func TestDownloadCancelProcessingInvokesWorkerCancel(t *testing.T) {
	db := setupServiceDB(t)
	r := task.NewRegistry(nil, nil)
	s := newTestDownloadService(t, r)

	row := model.DownloadTask{ID: "d1", URL: "https://www.bilibili.com/video/BV1xx411c7mD", Platform: "bilibili", Status: model.DownloadStatusProcessing}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("创建测试记录失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancels.Store(row.ID, context.CancelFunc(cancel))

	if err := s.Cancel(row.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("下载中的取消未中断工作者上下文")
	}

	// 落终态的收尾由工作者完成，取消方不碰行
	var got model.DownloadTask
	if err := db.First(&got, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if got.Status != model.DownloadStatusProcessing {
		t.Errorf("记录状态被取消方改写: %s", got.Status)
	}
}
