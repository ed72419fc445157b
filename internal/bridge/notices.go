package bridge

import (
	"sync"
	"time"
)

// Level は通知の重要度。
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice はホストの UI に表示する接続状況などのお知らせ。
type Notice struct {
	Time    time.Time
	Level   Level
	Message string
}

// noticeRing は直近の通知を固定件数だけ保持する。
type noticeRing struct {
	mu   sync.Mutex
	buf  []Notice
	size int
	subs []chan Notice
}

func newNoticeRing(size int) *noticeRing {
	return &noticeRing{size: size}
}

func (r *noticeRing) add(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, n)
	if len(r.buf) > r.size {
		r.buf = append(r.buf[:0], r.buf[len(r.buf)-r.size:]...)
	}
	for _, ch := range r.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (r *noticeRing) list() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.buf))
	copy(out, r.buf)
	return out
}

// watch は現在の履歴を返し、以降の通知を受け取るチャネルを登録する。
// 履歴とチャネルの間で通知が重複したり抜けたりしない。
func (r *noticeRing) watch(buffer int) ([]Notice, <-chan Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := make([]Notice, len(r.buf))
	copy(history, r.buf)
	ch := make(chan Notice, buffer)
	r.subs = append(r.subs, ch)
	return history, ch
}

// Notices は保持している通知を古い順に返す。
func (b *Bridge) Notices() []Notice { return b.notices.list() }

// WatchNotices は保持している通知と、それ以降の通知を受け取るチャネルを返す。
// 受信側が詰まった通知は捨てる。
func (b *Bridge) WatchNotices(buffer int) ([]Notice, <-chan Notice) {
	if buffer <= 0 {
		buffer = defaultNoticeCapacity
	}
	return b.notices.watch(buffer)
}

func (b *Bridge) notify(level Level, msg string) {
	b.notices.add(Notice{Time: time.Now(), Level: level, Message: msg})
}
