// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command configgen regenerates the configuration reference from the config
// registry. With -check it only reports whether the reference is stale.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/plexcord/internal/config"
)

const configDocPath = "docs/CONFIGURATION.md"

const (
	docBeginMarker = "<!-- BEGIN GENERATED CONFIG OPTIONS -->"
	docEndMarker   = "<!-- END GENERATED CONFIG OPTIONS -->"
)

var errStale = errors.New("configuration reference is stale, run configgen")

func main() {
	check := flag.Bool("check", false, "fail if the generated reference is out of date")
	example := flag.Bool("example", false, "print a generated example config to stdout and exit")
	flag.Parse()

	reg, err := config.GetRegistry()
	if err != nil {
		fail(fmt.Errorf("get registry: %w", err))
	}

	if *example {
		if err := writeExample(os.Stdout, reg.Entries); err != nil {
			fail(err)
		}
		return
	}

	root, err := os.Getwd()
	if err != nil {
		fail(err)
	}
	if err := updateConfigDoc(root, reg.Entries, *check); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
	os.Exit(1)
}

func updateConfigDoc(root string, entries []config.Entry, checkOnly bool) error {
	path := filepath.Join(root, configDocPath)
	// #nosec G304 -- CLI tool, path is fixed relative to the working directory
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read config doc: %w", err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		raw = []byte("# Configuration\n")
	}

	out := replaceGeneratedSection(string(raw), buildConfigDoc(entries))
	if checkOnly {
		if out != string(raw) {
			return errStale
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create docs dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("write config doc: %w", err)
	}
	return nil
}

func buildConfigDoc(entries []config.Entry) string {
	grouped := make(map[string][]config.Entry)
	for _, entry := range entries {
		group, _, _ := strings.Cut(entry.Path, ".")
		grouped[group] = append(grouped[group], entry)
	}

	groups := make([]string, 0, len(grouped))
	for group := range grouped {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	var b strings.Builder
	b.WriteString(docBeginMarker)
	b.WriteString("\n## Options (Generated)\n\n")
	b.WriteString("Generated from `internal/config/config.go`. Do not edit by hand.\n")
	b.WriteString("Environment variables override the YAML file, which overrides the defaults.\n\n")

	for _, group := range groups {
		fmt.Fprintf(&b, "### %s\n\n", group)
		b.WriteString("| Path | Env | Default |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, entry := range grouped[group] {
			def := "`" + formatDefault(entry.Default) + "`"
			if entry.Sensitive {
				def = "secret"
			}
			fmt.Fprintf(&b, "| `%s` | `%s` | %s |\n", entry.Path, entry.Env, def)
		}
		b.WriteString("\n")
	}
	b.WriteString(docEndMarker)
	return b.String()
}

func replaceGeneratedSection(content, generated string) string {
	start := strings.Index(content, docBeginMarker)
	end := strings.Index(content, docEndMarker)
	if start == -1 || end == -1 || end < start {
		return strings.TrimRight(content, "\n") + "\n\n" + generated + "\n"
	}
	end += len(docEndMarker)
	return content[:start] + generated + content[end:]
}

// writeExample renders every option at its default, annotated with its
// environment variable.
func writeExample(w io.Writer, entries []config.Entry) error {
	var root yaml.Node
	root.Kind = yaml.MappingNode
	root.HeadComment = "plexcord configuration. Generated by configgen; every key is optional."

	for _, entry := range entries {
		node := yamlNodeForValue(entry.Default)
		node.LineComment = entry.Env
		setYamlValue(&root, strings.Split(entry.Path, "."), node)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("encode example: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode example: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func setYamlValue(node *yaml.Node, path []string, value *yaml.Node) {
	if node.Kind != yaml.MappingNode || len(path) == 0 {
		return
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value != path[0] {
			continue
		}
		if len(path) == 1 {
			node.Content[i+1] = value
			return
		}
		setYamlValue(node.Content[i+1], path[1:], value)
		return
	}
	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path[0]}
	val := value
	if len(path) > 1 {
		val = &yaml.Node{Kind: yaml.MappingNode}
		setYamlValue(val, path[1:], value)
	}
	node.Content = append(node.Content, key, val)
}

func yamlNodeForValue(def any) *yaml.Node {
	switch v := def.(type) {
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", v)}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", v)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: fmt.Sprintf("%g", v)}
	case time.Duration:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: formatDuration(v)}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprintf("%v", v)}
	}
}

func formatDefault(def any) string {
	switch v := def.(type) {
	case string:
		if v == "" {
			return `""`
		}
		return v
	case time.Duration:
		return formatDuration(v)
	default:
		return fmt.Sprintf("%v", def)
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
