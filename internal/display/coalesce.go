// Package display は TaskEvent の列を表示用エントリの列に組み立てる。
//
// ストリーミング出力は細切れの "stream" 断片として届くため、同じ発信元から連続した断片を
// 1 つの "response" エントリに連結する。ホストのローカル UI とコントローラーの UI は
// それぞれ自分の Log を持ち、同じ遷移関数で同じ結果を得る。
package display

import (
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// KindResponse は連結済みストリーム断片のエントリ種別。
const KindResponse = "response"

// Entry は表示ログの 1 ブロック。
type Entry struct {
	Source  string
	Kind    string
	Content string
}

// Transition は直前のエントリ last と新しいイベント ev から次のエントリを決める純粋関数。
//
//   - stream で、last が同じ発信元の response なら連結したエントリを返し merged=true
//   - それ以外の stream は新しい response エントリ
//   - stream 以外はイベント種別をそのまま Kind にした新しいエントリ
func Transition(last *Entry, ev protocol.TaskEvent) (next Entry, merged bool) {
	if ev.EventType == protocol.EventStream {
		if last != nil && last.Kind == KindResponse && last.Source == ev.Source {
			return Entry{Source: last.Source, Kind: KindResponse, Content: last.Content + ev.Content}, true
		}
		return Entry{Source: ev.Source, Kind: KindResponse, Content: ev.Content}, false
	}
	return Entry{Source: ev.Source, Kind: ev.EventType, Content: ev.Content}, false
}

// Coalesce はイベント列をまとめて畳み込む。テストやログ再生用。
func Coalesce(events []protocol.TaskEvent) []Entry {
	var l Log
	for _, ev := range events {
		l.Apply(ev)
	}
	return l.Entries()
}
