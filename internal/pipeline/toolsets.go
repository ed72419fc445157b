package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ACFHarbinger/Coding-Assistants/internal/mcp"
)

// toolChain は複数の Toolset をサーバー名で振り分ける。
type toolChain []Toolset

// chainTools は nil を除いた sets をまとめる。1 つもなければ nil を返す。
func chainTools(sets ...Toolset) Toolset {
	var c toolChain
	for _, s := range sets {
		if s != nil {
			c = append(c, s)
		}
	}
	switch len(c) {
	case 0:
		return nil
	case 1:
		return c[0]
	}
	return c
}

func (c toolChain) Tools() []mcp.ToolSchema {
	var out []mcp.ToolSchema
	for _, s := range c {
		out = append(out, s.Tools()...)
	}
	return out
}

// owner は server のツールを公開している Toolset を返す。先に並んでいるものが優先。
func (c toolChain) owner(server string) Toolset {
	for _, s := range c {
		for _, t := range s.Tools() {
			if t.Server == server {
				return s
			}
		}
	}
	return nil
}

func (c toolChain) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallResult, error) {
	s := c.owner(server)
	if s == nil {
		return nil, fmt.Errorf("unknown tool server %q", server)
	}
	return s.CallTool(ctx, server, tool, args)
}

func (c toolChain) RequiresAuthorization(server string) bool {
	if s := c.owner(server); s != nil {
		return s.RequiresAuthorization(server)
	}
	return false
}

func (c toolChain) Close() error {
	var errs []error
	for _, s := range c {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
