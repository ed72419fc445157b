// Package catalog は GetModels に返すモデル一覧を組み立てる。
package catalog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// FallbackProvider は "provider/" を持たない行の所属先。
const FallbackProvider = "opencode"

// Lister はプロバイダー 1 つ分のモデル一覧を返す。brain.Brain が満たす。
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
	Provider() string
}

// Catalog は固定の行とプロバイダーへの問い合わせ結果をまとめる。
type Catalog struct {
	static  []string
	listers []Lister
	timeout time.Duration
	log     *slog.Logger
}

// Option は Catalog の動作を調整する。
type Option func(*Catalog)

// WithLogger はログ出力先を指定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout はプロバイダー 1 つあたりの問い合わせ時間の上限を指定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New は Catalog を返す。static は "provider/model" 形式の行。
func New(static []string, listers []Lister, opts ...Option) *Catalog {
	c := &Catalog{
		static:  static,
		listers: listers,
		timeout: 10 * time.Second,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "catalog")
	return c
}

// Models は全プロバイダーに並行して問い合わせ、結果をまとめて返す。
// 失敗したプロバイダーはログに残して読み飛ばす。
func (c *Catalog) Models(ctx context.Context) (protocol.ModelCatalog, error) {
	out := ParseLines(c.static)

	results := make([][]string, len(c.listers))
	var wg sync.WaitGroup
	for i, l := range c.listers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			ids, err := l.ListModels(lctx)
			if err != nil {
				c.log.Warn("list models failed", "provider", l.Provider(), "error", err)
				return
			}
			results[i] = ids
		}()
	}
	wg.Wait()

	for i, l := range c.listers {
		provider := strings.ToLower(l.Provider())
		for _, id := range results[i] {
			out.Add(provider, id)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// ParseLines は "provider/model" 行を一覧に変換する。
// 最初の "/" で分け、"/" がない行は FallbackProvider に入れる。空行は無視する。
func ParseLines(lines []string) protocol.ModelCatalog {
	out := protocol.ModelCatalog{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		provider, model, ok := strings.Cut(line, "/")
		if !ok {
			out.Add(FallbackProvider, line)
			continue
		}
		out.Add(strings.ToLower(provider), model)
	}
	return out
}
