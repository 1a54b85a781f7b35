package task

import "time"

// Clock 时间源接口，便于测试中注入固定时间
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系统时间的时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
