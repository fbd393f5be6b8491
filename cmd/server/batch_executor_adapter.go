package main

import (
	"context"

	"github.com/weibaohui/pleroma/backend/internal/service"
	"github.com/weibaohui/pleroma/backend/internal/service/dispatcher"
	"k8s.io/klog/v2"
)

// batchExecutorAdapter 将 GenerationService 适配为 BatchExecutor 接口
// 避免 dispatcher 和 service 之间的循环依赖
type batchExecutorAdapter struct {
	generation *service.GenerationService
}

// ExecuteBatch 执行异步批量生成，job.ID 写入每条生成记录的 batchId
// 调度器停止时 ctx 被取消，批量在当前课时完成后退出
func (a *batchExecutorAdapter) ExecuteBatch(ctx context.Context, job *dispatcher.Job) error {
	result, err := a.generation.RunBatch(ctx, job.Slug, job.UserID, job.Count, job.ID)
	if err != nil {
		return err
	}
	klog.V(6).Infof("[batchExecutor] jobID=%s, generated=%v, failed=%d", job.ID, result.Generated, len(result.Failed))
	return nil
}
