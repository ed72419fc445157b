package display

import (
	"sync"

	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// PromptKind はユーザーの回答を必要とするイベントの種類。
type PromptKind int

const (
	// PromptInput は自由入力の質問（"question"）。
	PromptInput PromptKind = iota + 1
	// PromptAuthorization は APPROVED / DENIED で答える承認要求（"authorization"）。
	PromptAuthorization
)

// Prompt は回答待ちを UI に知らせる副チャネル。
// Prompt が出てもログへの追記は止まらない。
type Prompt struct {
	Kind     PromptKind
	Source   string
	Role     string // PromptAuthorization のときの要求元ロール
	Question string
}

// Update は Log に 1 件適用した結果。
type Update struct {
	// Index は追加または更新されたエントリの位置。何も変わらなければ -1。
	Index  int
	Merged bool
	Prompt *Prompt
}

// Changed はエントリ列が変化したかどうかを返す。
func (u Update) Changed() bool { return u.Index >= 0 }

// Log はタスク 1 回分の表示ログ。追記のみで、TaskStarted かローカルの Clear で空になる。
// 複数 goroutine から使ってよい。
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// Apply は TaskEvent を 1 件適用する。
func (l *Log) Apply(ev protocol.TaskEvent) Update {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last *Entry
	if n := len(l.entries); n > 0 {
		last = &l.entries[n-1]
	}
	next, merged := Transition(last, ev)

	u := Update{Merged: merged, Prompt: promptFor(ev)}
	if merged {
		*last = next
		u.Index = len(l.entries) - 1
	} else {
		l.entries = append(l.entries, next)
		u.Index = len(l.entries) - 1
	}
	return u
}

// Observe は任意の Event を受け取り、表示ログに関係するものだけを反映する。
// TaskStarted でログを空にし、TaskEvent を適用する。それ以外は何もしない。
func (l *Log) Observe(ev protocol.Event) Update {
	switch e := ev.(type) {
	case protocol.TaskStarted:
		l.Clear()
		return Update{Index: -1}
	case protocol.TaskEvent:
		return l.Apply(e)
	default:
		return Update{Index: -1}
	}
}

// Clear はログを空にする。
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Entries はエントリ列のコピーを返す。
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len はエントリ数を返す。
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Last は最後のエントリを返す。
func (l *Log) Last() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

func promptFor(ev protocol.TaskEvent) *Prompt {
	switch ev.EventType {
	case protocol.EventQuestion:
		return &Prompt{Kind: PromptInput, Source: ev.Source, Question: ev.Content}
	case protocol.EventAuthorization:
		p := &Prompt{Kind: PromptAuthorization, Source: ev.Source, Role: ev.Source, Question: ev.Content}
		if a, err := protocol.ParseAuthorization(ev.Content); err == nil {
			if a.Role != "" {
				p.Role = a.Role
			}
			p.Question = a.Question
		}
		return p
	default:
		return nil
	}
}
