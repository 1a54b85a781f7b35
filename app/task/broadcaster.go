package task

import "sync"

// subscriberBuffer 每个订阅者的缓冲大小，写满即丢弃，绝不阻塞发布方
const subscriberBuffer = 16

// Subscription 单个订阅者持有的接收端
// 订阅者必须自行比较 Seq，丢弃不大于已见 seq 的消息
type Subscription struct {
	C      chan State
	taskID string
}

// Broadcaster 按任务ID做尽力而为的状态变更扇出
// 投递语义：每次变更对每个订阅者至多一次；慢订阅者丢消息，靠对账接口补齐
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe 订阅指定任务的状态变更
func (b *Broadcaster) Subscribe(taskID string) *Subscription {
	sub := &Subscription{
		C:      make(chan State, subscriberBuffer),
		taskID: taskID,
	}

	b.mu.Lock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[*Subscription]struct{})
	}
	b.subs[taskID][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe 退订并关闭通道
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if m, ok := b.subs[sub.taskID]; ok {
		if _, exists := m[sub]; exists {
			delete(m, sub)
			close(sub.C)
		}
		if len(m) == 0 {
			delete(b.subs, sub.taskID)
		}
	}
	b.mu.Unlock()
}

// Publish 向任务的所有订阅者推送一次状态快照
// 非阻塞发送，缓冲已满的订阅者直接跳过
func (b *Broadcaster) Publish(state State) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[state.TaskID] {
		select {
		case sub.C <- state:
		default:
			// 订阅者跟不上，丢弃本次变更
		}
	}
}

// SubscriberCount 返回指定任务的订阅者数量
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}
