package breaker

import "time"

// windowEntry 滑动窗口中的一次调用记录
type windowEntry struct {
	at       time.Time
	success  bool
	duration time.Duration
	kind     string // 失败分类，成功时为空
}

// slidingWindow 滑动窗口，环形缓冲区实现。
// 容量固定，写满后覆盖最旧记录，错误率始终基于最近 N 条计算。
// 不自带锁：调用方（熔断器）持有自己的互斥锁。
type slidingWindow struct {
	size     int
	entries  []windowEntry
	index    int // 当前写入位置
	count    int // 有效记录数（未满窗口时 < size）
	failures int
}

func newSlidingWindow(size int) *slidingWindow {
	return &slidingWindow{
		size:    size,
		entries: make([]windowEntry, size),
	}
}

// record 记录一次调用结果
func (w *slidingWindow) record(e windowEntry) {
	// 窗口已满时先抵消即将被覆盖的记录
	if w.count >= w.size && !w.entries[w.index].success {
		w.failures--
	}

	w.entries[w.index] = e
	if !e.success {
		w.failures++
	}

	w.index = (w.index + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// errorRate 计算窗口内错误率，空窗口返回 0
func (w *slidingWindow) errorRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

// length 返回有效记录数
func (w *slidingWindow) length() int {
	return w.count
}

// reset 清空窗口
func (w *slidingWindow) reset() {
	w.index = 0
	w.count = 0
	w.failures = 0
	clear(w.entries)
}
