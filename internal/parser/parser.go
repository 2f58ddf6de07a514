// Package parser derives note names from markdown and handles the YAML
// frontmatter envelope used by the file-backed store.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// A heading only counts once its line is terminated, so a half-typed
// "# Tit" at the end of the buffer does not rename the note.
var headingRe = regexp.MustCompile(`#\s+(.+)[\r\n]+`)

// DeriveName returns the text of the first terminated markdown heading in raw,
// or the empty string when there is none.
func DeriveName(raw string) string {
	m := headingRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], "\r")
}

// SplitFrontmatter decodes a leading "---" YAML block into out and returns the
// remaining body verbatim. ok is false when data carries no frontmatter, in
// which case the whole input is the body and out is untouched.
func SplitFrontmatter(data []byte, out any) (body string, ok bool, err error) {
	open := []byte(delim + "\n")
	if !bytes.HasPrefix(data, open) {
		return string(data), false, nil
	}
	rest := data[len(open):]

	var block []byte
	switch {
	case bytes.HasPrefix(rest, open):
		rest = rest[len(open):]
	default:
		idx := bytes.Index(rest, []byte("\n"+delim+"\n"))
		if idx < 0 {
			return string(data), false, nil
		}
		block = rest[:idx+1]
		rest = rest[idx+1+len(open):]
	}

	if len(block) > 0 {
		if err := yaml.Unmarshal(block, out); err != nil {
			return "", false, fmt.Errorf("parser: frontmatter: %w", err)
		}
	}
	return string(rest), true, nil
}

// ComposeFrontmatter renders meta as a YAML frontmatter block followed by body.
func ComposeFrontmatter(meta any, body string) ([]byte, error) {
	block, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("parser: marshal frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(block) + len(body) + 2*len(delim) + 2)
	buf.WriteString(delim + "\n")
	buf.Write(block)
	buf.WriteString(delim + "\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}
