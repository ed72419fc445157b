package transport

import (
	"io"
	"log/slog"
	"time"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultDialTimeout  = 5 * time.Second
	// defaultMaxLineBytes は 1 行の上限。StartTask の mcp_config やストリーム断片を十分に収める。
	defaultMaxLineBytes = 4 << 20
)

type options struct {
	logger       *slog.Logger
	writeTimeout time.Duration
	dialTimeout  time.Duration
	maxLineBytes int
}

// Option は Session / Listener の動作を調整する。
type Option func(*options)

// WithLogger はセッションのログ出力先を指定する。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWriteTimeout は 1 回の Send の書き込み期限を指定する。0 以下で無制限。
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithDialTimeout は Dial の接続タイムアウトを指定する。
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithMaxLineBytes は受信する 1 行の最大バイト数を指定する。
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineBytes = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		writeTimeout: defaultWriteTimeout,
		dialTimeout:  defaultDialTimeout,
		maxLineBytes: defaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
