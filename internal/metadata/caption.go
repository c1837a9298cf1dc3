// Package metadata turns a message caption into video metadata and makes up
// whatever the caption leaves out.
package metadata

import (
	"regexp"
	"strings"
)

// Caption is the structured form of a message caption.
type Caption struct {
	Title       string
	Description string
	Tags        []string
}

func (c Caption) Empty() bool {
	return c.Title == "" && c.Description == "" && len(c.Tags) == 0
}

var tagToken = regexp.MustCompile(`^#([\p{L}\p{N}_][\p{L}\p{N}_-]*)[,.;]?$`)

// ParseCaption splits text into title (first non-empty line), tags (hashtag
// tokens at the very end, possibly over several lines) and description
// (everything in between, outer blank lines removed).
func ParseCaption(text string) Caption {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	var tags []string
	end := len(lines) - 1
	for end >= 0 {
		rest, found := trailingTags(lines[end])
		tags = append(found, tags...)
		lines[end] = rest
		if strings.TrimSpace(rest) != "" {
			break
		}
		end--
	}
	lines = lines[:end+1]

	var c Caption
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start < len(lines) {
		c.Title = strings.TrimSpace(lines[start])
		c.Description = joinBlock(lines[start+1:])
	}
	c.Tags = dedupe(tags)
	return c
}

// trailingTags strips hashtag tokens off the end of line and returns them in
// order of appearance.
func trailingTags(line string) (string, []string) {
	var tags []string
	rest := strings.TrimRight(line, " \t")
	for rest != "" {
		k := strings.LastIndexAny(rest, " \t")
		m := tagToken.FindStringSubmatch(rest[k+1:])
		if m == nil {
			break
		}
		tags = append([]string{m[1]}, tags...)
		if k < 0 {
			rest = ""
		} else {
			rest = strings.TrimRight(rest[:k], " \t")
		}
	}
	return rest, tags
}

func joinBlock(lines []string) string {
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// dedupe drops repeated tags (case-insensitive), keeping the first spelling.
func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		k := strings.ToLower(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}
