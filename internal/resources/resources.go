// Package resources は作業ディレクトリ内の .agent/{prompts,rules,workflows} を扱う。
//
// 各ファイルは Markdown で、先頭に YAML frontmatter を置いてもよい:
//
//	---
//	name: strict-planner
//	description: 小さなステップに分解する Planner
//	---
//
//	You are a meticulous planner...
package resources

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentDir は作業ディレクトリ直下のリソース置き場。
const AgentDir = ".agent"

// Kind はリソースの種類（ディレクトリ名）。
type Kind string

const (
	KindPrompts   Kind = "prompts"
	KindRules     Kind = "rules"
	KindWorkflows Kind = "workflows"
)

// Kinds は全種類を一覧表示の順で返す。
func Kinds() []Kind { return []Kind{KindPrompts, KindRules, KindWorkflows} }

// ErrOutsideAgentDir は .agent 外のパスを読もうとしたときに返る。
var ErrOutsideAgentDir = errors.New("resources: path must be within .agent directory")

// Resources は種類ごとのファイル一覧。パスは作業ディレクトリからの相対（例 ".agent/prompts/a.md"）。
type Resources struct {
	Prompts   []string `json:"prompts" yaml:"prompts"`
	Rules     []string `json:"rules" yaml:"rules"`
	Workflows []string `json:"workflows" yaml:"workflows"`
}

// Document は frontmatter を分離したリソースファイル。
type Document struct {
	Path        string
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string
}

// Provider は 1 つの作業ディレクトリのリソースを読む。
type Provider struct {
	workDir string
}

// New は workDir を基点とする Provider を返す。
func New(workDir string) *Provider {
	return &Provider{workDir: workDir}
}

// WorkDir は基点ディレクトリを返す。
func (p *Provider) WorkDir() string { return p.workDir }

// List は各ディレクトリのファイルを名前順に返す。ディレクトリがなければ作る。
func (p *Provider) List() (Resources, error) {
	var out Resources
	for _, k := range Kinds() {
		dir := filepath.Join(p.workDir, AgentDir, string(k))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Resources{}, fmt.Errorf("resources: create %s: %w", dir, err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return Resources{}, fmt.Errorf("resources: read %s: %w", dir, err)
		}
		var files []string
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, AgentDir+"/"+string(k)+"/"+e.Name())
			}
		}
		slices.Sort(files)

		switch k {
		case KindPrompts:
			out.Prompts = files
		case KindRules:
			out.Rules = files
		case KindWorkflows:
			out.Workflows = files
		}
	}
	return out, nil
}

// Read は .agent 配下のファイルの内容を返す。rel は作業ディレクトリからの相対パス。
func (p *Provider) Read(rel string) (string, error) {
	full, err := p.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("resources: read %s: %w", rel, err)
	}
	return string(data), nil
}

// Load は Read した内容の frontmatter を分離して返す。
func (p *Provider) Load(rel string) (Document, error) {
	content, err := p.Read(rel)
	if err != nil {
		return Document{}, err
	}
	doc := ParseDocument(content)
	doc.Path = rel
	return doc, nil
}

// resolve は rel を検査して絶対パスにする。絶対パス、".." を含むもの、.agent 外は拒否する。
func (p *Provider) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrOutsideAgentDir
	}
	clean := filepath.ToSlash(filepath.Clean(rel))
	if clean != AgentDir && !strings.HasPrefix(clean, AgentDir+"/") {
		return "", ErrOutsideAgentDir
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == ".." {
			return "", ErrOutsideAgentDir
		}
	}
	return filepath.Join(p.workDir, filepath.FromSlash(clean)), nil
}

// ParseDocument は frontmatter（--- で囲まれた YAML 部分）を分離する。
// frontmatter がない、または壊れている場合は全体を本文として扱う。
func ParseDocument(content string) Document {
	if !strings.HasPrefix(content, "---") {
		return Document{Body: strings.TrimSpace(content)}
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return Document{Body: strings.TrimSpace(content)}
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(parts[1]), &doc); err != nil {
		return Document{Body: strings.TrimSpace(content)}
	}
	doc.Body = strings.TrimSpace(parts[2])
	return doc
}
