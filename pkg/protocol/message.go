// Package protocol defines the line-delimited JSON messages exchanged between a controller and the host.
//
// 1 メッセージは 1 行の JSON オブジェクトで、"type" フィールドで種別を判別する:
//
//	{"type":"StartTask","config":{"roles":[...],"work_dir":"","mcp_config":""},"task":"build X"}
//	{"type":"TaskEvent","source":"Developer","event_type":"stream","content":"Hel"}
package protocol

import "fmt"

// DefaultPort はホストが待ち受ける既定の TCP ポート。
const DefaultPort = 5555

// Message は行単位でやり取りされる全メッセージの共通インターフェース。
type Message interface {
	// MessageType は "type" 判別子の値を返す。
	MessageType() string
}

// Request は controller → host 方向のメッセージ。
// 実装はこのパッケージ内の型に閉じている。
type Request interface {
	Message
	isRequest()
}

// Event は host → controller / ローカル UI 方向のメッセージ。
// 実装はこのパッケージ内の型に閉じている。
type Event interface {
	Message
	isEvent()
}

// 判別子の値。
const (
	TypeGetModels   = "GetModels"
	TypeStartTask   = "StartTask"
	TypeCancelTask  = "CancelTask"
	TypeSubmitInput = "SubmitInput"
	TypeGetStatus   = "GetStatus"

	TypeModelsList   = "ModelsList"
	TypeTaskStarted  = "TaskStarted"
	TypeTaskEvent    = "TaskEvent"
	TypeTaskComplete = "TaskComplete"
	TypeStatus       = "Status"
	TypeError        = "Error"
)

// --- Requests ---

// GetModels は利用可能なモデル一覧を要求する。
type GetModels struct{}

// StartTask は新しいタスクの開始を要求する。
type StartTask struct {
	Config AgentConfig `json:"config"`
	Task   string      `json:"task"`
}

// CancelTask は実行中タスクのキャンセルを要求する。
type CancelTask struct{}

// SubmitInput は executor の質問・承認要求に対する回答を送る。
type SubmitInput struct {
	Input string `json:"input"`
}

// GetStatus は現在の実行状態を問い合わせる。
type GetStatus struct{}

func (GetModels) MessageType() string   { return TypeGetModels }
func (StartTask) MessageType() string   { return TypeStartTask }
func (CancelTask) MessageType() string  { return TypeCancelTask }
func (SubmitInput) MessageType() string { return TypeSubmitInput }
func (GetStatus) MessageType() string   { return TypeGetStatus }

func (GetModels) isRequest()   {}
func (StartTask) isRequest()   {}
func (CancelTask) isRequest()  {}
func (SubmitInput) isRequest() {}
func (GetStatus) isRequest()   {}

// --- Events ---

// ModelsList は GetModels への応答。
type ModelsList struct {
	Models ModelCatalog `json:"models"`
}

// TaskStarted は executor がタスクを開始したことを全オブザーバーに通知する。
type TaskStarted struct{}

// TaskEvent は実行中タスクの進捗 1 件。
type TaskEvent struct {
	Source    string `json:"source"`
	EventType string `json:"event_type"`
	Content   string `json:"content"`
}

// TaskComplete はタスクの正常終了と最終結果を通知する。
type TaskComplete struct {
	Result string `json:"result"`
}

// Status は実行状態のスナップショット、または要求への確認応答。
type Status struct {
	Running bool   `json:"running"`
	Message string `json:"message"`
}

// 確認応答の Status に載せるメッセージ。
const (
	StatusCancelSent     = "Cancel request sent"
	StatusInputSubmitted = "Input submitted"
)

// InputSubmittedBy は別のオブザーバーが回答したことを伝える Status のメッセージを返す。
func InputSubmittedBy(origin string) string {
	return StatusInputSubmitted + " by " + origin
}

// ErrorEvent はタスクの失敗または要求の拒否を通知する。判別子は "Error"。
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ModelsList) MessageType() string   { return TypeModelsList }
func (TaskStarted) MessageType() string  { return TypeTaskStarted }
func (TaskEvent) MessageType() string    { return TypeTaskEvent }
func (TaskComplete) MessageType() string { return TypeTaskComplete }
func (Status) MessageType() string       { return TypeStatus }
func (ErrorEvent) MessageType() string   { return TypeError }

func (ModelsList) isEvent()   {}
func (TaskStarted) isEvent()  {}
func (TaskEvent) isEvent()    {}
func (TaskComplete) isEvent() {}
func (Status) isEvent()       {}
func (ErrorEvent) isEvent()   {}

// Errorf は ErrorEvent を組み立てるヘルパー。
func Errorf(format string, args ...any) ErrorEvent {
	return ErrorEvent{Message: fmt.Sprintf(format, args...)}
}
