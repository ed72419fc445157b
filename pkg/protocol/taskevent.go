package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskEvent.EventType の既知の値。これ以外は通常イベントとしてそのまま表示する。
const (
	EventThought       = "thought"
	EventStream        = "stream"
	EventQuestion      = "question"
	EventAuthorization = "authorization"
)

// 承認要求への回答として有効な入力。
const (
	Approved = "APPROVED"
	Denied   = "DENIED"
)

// IsAuthorizationAnswer は input が承認要求への有効な回答かどうかを返す。
func IsAuthorizationAnswer(input string) bool {
	return input == Approved || input == Denied
}

// Authorization は "authorization" イベントの content に入る JSON レコード。
// サブエージェント（Role）が実行前に確認を求める質問を表す。
type Authorization struct {
	Role     string `json:"role"`
	Question string `json:"question"`
}

// ParseAuthorization は authorization イベントの content を解析する。
func ParseAuthorization(content string) (Authorization, error) {
	var a Authorization
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &a); err != nil {
		return Authorization{}, fmt.Errorf("protocol: parse authorization: %w", err)
	}
	if a.Question == "" {
		return Authorization{}, fmt.Errorf("protocol: parse authorization: %w", missingField("question"))
	}
	return a, nil
}

// NewAuthorizationEvent は source から発行する authorization イベントを組み立てる。
func NewAuthorizationEvent(source string, a Authorization) TaskEvent {
	data, err := marshalNoEscape(a)
	if err != nil {
		// string 2 つの構造体なので失敗しない
		data = []byte(`{}`)
	}
	return TaskEvent{Source: source, EventType: EventAuthorization, Content: string(data)}
}

// Stream / Thought / Question はよく使う TaskEvent のコンストラクタ。
func Stream(source, content string) TaskEvent {
	return TaskEvent{Source: source, EventType: EventStream, Content: content}
}

func Thought(source, content string) TaskEvent {
	return TaskEvent{Source: source, EventType: EventThought, Content: content}
}

func Question(source, content string) TaskEvent {
	return TaskEvent{Source: source, EventType: EventQuestion, Content: content}
}
