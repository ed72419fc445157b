package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyLine は空行（空白のみを含む）を復号しようとしたときに返る。
	ErrEmptyLine = errors.New("empty line")
	// ErrMissingType は "type" フィールドが無い、または文字列でないときに返る。
	ErrMissingType = errors.New(`missing "type" discriminator`)
	// ErrUnknownType は判別子がこのメッセージ族に存在しないときに返る。
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField は必須フィールドが無い、または null のときに返る。
	ErrMissingField = errors.New("missing required field")
)

// maxErrorLine は DecodeError に保持する行の最大長（バイト）。
const maxErrorLine = 120

// DecodeError は 1 行を Request / Event として解釈できなかったことを表す。
// 接続は維持したまま呼び出し側で報告・スキップする。
type DecodeError struct {
	// Line は問題の行（ログ用に切り詰め済み）。
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeError(line []byte, err error) *DecodeError {
	s := string(line)
	if len(s) > maxErrorLine {
		s = s[:maxErrorLine] + "…"
	}
	return &DecodeError{Line: s, Err: err}
}

// Encode は m を 1 行の JSON に変換する。末尾の改行は含まない。
// "type" 判別子は常に先頭フィールドになる。
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("protocol: encode nil message")
	}
	if _, ok := decoders[m.MessageType()]; !ok {
		return nil, fmt.Errorf("protocol: encode %T: %w", m, ErrUnknownType)
	}

	body, err := marshalNoEscape(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}
	tag, err := marshalNoEscape(m.MessageType())
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 { // "{}" 以外
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// DecodeRequest は 1 行を Request として復号する。
// 未知のフィールドは無視し、必須フィールドの欠落は DecodeError になる。
func DecodeRequest(line []byte) (Request, error) {
	m, err := decode(line, familyRequest)
	if err != nil {
		return nil, err
	}
	return m.(Request), nil
}

// DecodeEvent は 1 行を Event として復号する。
func DecodeEvent(line []byte) (Event, error) {
	m, err := decode(line, familyEvent)
	if err != nil {
		return nil, err
	}
	return m.(Event), nil
}

// DecodeRequestMessage は DecodeRequest を Message を返す関数として提供する（transport 用）。
func DecodeRequestMessage(line []byte) (Message, error) { return DecodeRequest(line) }

// DecodeEventMessage は DecodeEvent を Message を返す関数として提供する（transport 用）。
func DecodeEventMessage(line []byte) (Message, error) { return DecodeEvent(line) }

type family int

const (
	familyRequest family = iota
	familyEvent
)

type decoder struct {
	family   family
	required []string
	decode   func([]byte) (Message, error)
}

var decoders = map[string]decoder{
	TypeGetModels:   {familyRequest, nil, unmarshalAs[GetModels]},
	TypeStartTask:   {familyRequest, []string{"config", "task"}, unmarshalAs[StartTask]},
	TypeCancelTask:  {familyRequest, nil, unmarshalAs[CancelTask]},
	TypeSubmitInput: {familyRequest, []string{"input"}, unmarshalAs[SubmitInput]},
	TypeGetStatus:   {familyRequest, nil, unmarshalAs[GetStatus]},

	TypeModelsList:   {familyEvent, []string{"models"}, unmarshalAs[ModelsList]},
	TypeTaskStarted:  {familyEvent, nil, unmarshalAs[TaskStarted]},
	TypeTaskEvent:    {familyEvent, []string{"source", "event_type", "content"}, unmarshalAs[TaskEvent]},
	TypeTaskComplete: {familyEvent, []string{"result"}, unmarshalAs[TaskComplete]},
	TypeStatus:       {familyEvent, []string{"running", "message"}, unmarshalAs[Status]},
	TypeError:        {familyEvent, []string{"message"}, unmarshalAs[ErrorEvent]},
}

func decode(line []byte, fam family) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, newDecodeError(line, ErrEmptyLine)
	}

	obj, err := objectFields(line)
	if err != nil {
		return nil, newDecodeError(line, err)
	}
	rawType, ok := obj["type"]
	if !ok {
		return nil, newDecodeError(line, ErrMissingType)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, newDecodeError(line, ErrMissingType)
	}

	d, ok := decoders[typ]
	if !ok || d.family != fam {
		return nil, newDecodeError(line, fmt.Errorf("%w %q", ErrUnknownType, typ))
	}
	if err := requireFields(obj, d.required...); err != nil {
		return nil, newDecodeError(line, fmt.Errorf("%s: %w", typ, err))
	}
	m, err := d.decode(line)
	if err != nil {
		return nil, newDecodeError(line, fmt.Errorf("%s: %w", typ, err))
	}
	return m, nil
}

func unmarshalAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// objectFields は data を JSON オブジェクトとしてフィールド単位に分解する。
func objectFields(data []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("expected JSON object, got null")
	}
	return obj, nil
}

func requireFields(obj map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		v, ok := obj[name]
		if !ok || isNull(v) {
			return missingField(name)
		}
	}
	return nil
}

func missingField(name string) error {
	return fmt.Errorf("%w %q", ErrMissingField, name)
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

// marshalNoEscape は HTML エスケープを行わずに v を JSON にする。末尾改行は除去する。
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
