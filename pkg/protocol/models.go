package protocol

import (
	"slices"
	"strings"
)

// ModelCatalog は provider → モデル ID 一覧の対応表。
// ワイヤ上では provider 名の昇順で書き出される。
type ModelCatalog map[string][]string

// Providers は provider 名を昇順で返す。
func (c ModelCatalog) Providers() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Add は provider にモデルを追加する。重複は無視し、追加順を保つ。
func (c ModelCatalog) Add(provider, model string) {
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return
	}
	if slices.Contains(c[provider], model) {
		return
	}
	c[provider] = append(c[provider], model)
}

// Len は全 provider のモデル数の合計を返す。
func (c ModelCatalog) Len() int {
	n := 0
	for _, ms := range c {
		n += len(ms)
	}
	return n
}

// MarshalJSON は nil の表を {} として書き出す。
func (c ModelCatalog) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte(`{}`), nil
	}
	return marshalNoEscape(map[string][]string(c))
}
