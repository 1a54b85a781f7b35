package task

import (
	"testing"

	"pgregory.net/rapid"
)

// 无论提交什么样的变更序列，注册表必须维持：
// seq 只在变更被接受时加一；进度单调不减；终态之后状态不再变化
func TestRegistryInvariantsUnderRandomDeltas(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry(nil, nil)
		st := r.Create(KindProcessing, nil)
		taskID := st.TaskID

		n := rapid.IntRange(1, 40).Draw(rt, "num_deltas")
		for i := 0; i < n; i++ {
			before, err := r.Get(taskID)
			if err != nil {
				rt.Fatalf("Get failed: %v", err)
			}

			d := Delta{
				Seq: uint64(rapid.IntRange(0, int(before.Seq)+2).Draw(rt, "seq")),
			}
			if rapid.Bool().Draw(rt, "with_status") {
				s := rapid.SampledFrom([]Status{
					StatusPending, StatusProgress, StatusDone, StatusFail,
				}).Draw(rt, "status")
				d.Status = &s
			}
			if rapid.Bool().Draw(rt, "with_progress") {
				p := rapid.IntRange(0, 100).Draw(rt, "progress")
				d.Progress = &p
			}

			after, uerr := r.Update(taskID, d)
			got, gerr := r.Get(taskID)
			if gerr != nil {
				rt.Fatalf("Get after update failed: %v", gerr)
			}

			if uerr != nil {
				// 被拒绝的变更必须不留痕迹
				if got.Seq != before.Seq {
					rt.Fatalf("被拒绝的变更改变了 seq: %d -> %d", before.Seq, got.Seq)
				}
				if got.Status != before.Status || got.Progress != before.Progress {
					rt.Fatalf("被拒绝的变更改变了状态: %s/%d -> %s/%d",
						before.Status, before.Progress, got.Status, got.Progress)
				}
				continue
			}

			// 被接受的变更 seq 必须恰好加一
			if after.Seq != before.Seq+1 {
				rt.Fatalf("接受的变更 seq %d -> %d, want +1", before.Seq, after.Seq)
			}
			// 进度不可回退
			if after.Progress < before.Progress {
				rt.Fatalf("进度回退: %d -> %d", before.Progress, after.Progress)
			}
			// 终态任务不可能接受变更
			if before.Status.IsTerminal() {
				rt.Fatalf("终态 %s 之后的变更被接受", before.Status)
			}
			// 状态迁移必须合法
			if d.Status != nil && !CanTransition(before.Status, *d.Status) {
				rt.Fatalf("非法迁移被接受: %s -> %s", before.Status, *d.Status)
			}
		}
	})
}
