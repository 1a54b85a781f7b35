package task

import "testing"

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	sub1 := b.Subscribe("t1")
	sub2 := b.Subscribe("t1")
	other := b.Subscribe("t2")

	b.Publish(State{TaskID: "t1", Seq: 1, Status: StatusProgress})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case st := <-sub.C:
			if st.Seq != 1 {
				t.Errorf("订阅者 %d 收到 seq=%d, want 1", i, st.Seq)
			}
		default:
			t.Errorf("订阅者 %d 没有收到消息", i)
		}
	}

	// 其他任务的订阅者不受影响
	select {
	case st := <-other.C:
		t.Errorf("收到了不相关任务的消息: %+v", st)
	default:
	}
}

// 慢订阅者缓冲写满后丢消息，发布方绝不阻塞
func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("t1")

	total := subscriberBuffer + 10
	for i := 1; i <= total; i++ {
		b.Publish(State{TaskID: "t1", Seq: uint64(i)})
	}

	// 缓冲里最多 subscriberBuffer 条，且保持发布顺序
	received := 0
	var lastSeq uint64
	for {
		select {
		case st := <-sub.C:
			received++
			if st.Seq <= lastSeq {
				t.Errorf("消息乱序: seq %d 在 %d 之后", st.Seq, lastSeq)
			}
			lastSeq = st.Seq
		default:
			if received != subscriberBuffer {
				t.Errorf("收到 %d 条消息, want %d", received, subscriberBuffer)
			}
			return
		}
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("t1")

	b.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("退订后通道未关闭")
	}
	if n := b.SubscriberCount("t1"); n != 0 {
		t.Errorf("退订后订阅者数 = %d, want 0", n)
	}

	// 重复退订不炸
	b.Unsubscribe(sub)
	// 退订后发布不炸
	b.Publish(State{TaskID: "t1", Seq: 1})
}

func TestBroadcasterSubscriberCount(t *testing.T) {
	b := NewBroadcaster()
	if n := b.SubscriberCount("t1"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}

	sub1 := b.Subscribe("t1")
	sub2 := b.Subscribe("t1")
	if n := b.SubscriberCount("t1"); n != 2 {
		t.Errorf("SubscriberCount = %d, want 2", n)
	}

	b.Unsubscribe(sub1)
	b.Unsubscribe(sub2)
	if n := b.SubscriberCount("t1"); n != 0 {
		t.Errorf("全部退订后 SubscriberCount = %d, want 0", n)
	}
}

// 注册表接上广播器后，每次接受的变更都推一份快照
// 订阅者比较 seq 去重，对账时直接读注册表
func TestRegistryBroadcastIntegration(t *testing.T) {
	b := NewBroadcaster()
	r := NewRegistry(nil, b)

	st := r.Create(KindProcessing, nil)
	sub := b.Subscribe(st.TaskID)

	mustUpdate(t, r, st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusProgress), Phase: phasePtr(PhaseTranscribe)})
	mustUpdate(t, r, st.TaskID, Delta{Seq: 2, Progress: intPtr(20), Phase: phasePtr(PhaseAnalyze)})
	mustUpdate(t, r, st.TaskID, Delta{Seq: 3, Status: statusPtr(StatusDone), Progress: intPtr(100)})

	var seqs []uint64
	for i := 0; i < 3; i++ {
		select {
		case st := <-sub.C:
			seqs = append(seqs, st.Seq)
		default:
			t.Fatalf("只收到 %d 条推送, want 3", i)
		}
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Errorf("推送 seq 顺序错误: %v", seqs)
			break
		}
	}

	// 推送丢失后，注册表里的权威状态仍然完整
	authoritative, err := r.Get(st.TaskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if authoritative.Status != StatusDone || authoritative.Progress != 100 || authoritative.Seq != 3 {
		t.Errorf("权威状态不完整: %+v", authoritative)
	}
}
