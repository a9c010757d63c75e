// Package parser splits source text into token-bounded chunks and Markdown sections.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// MarkdownDoc is a parsed Markdown corpus source.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title from frontmatter or the first h1
	Title string

	// Body after frontmatter
	Content string

	// Preamble is the text before the first heading.
	Preamble string

	Sections []Section
}

// Section is a heading and the text under it.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Path    string // Full path like "## Coping > ### Breathing"
	Content string
	Start   int // first line (1-based)
	End     int
}

// ParseMarkdown parses a Markdown document into structured form.
// Malformed frontmatter is ignored rather than reported.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx > 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Preamble, doc.Sections = parseSections(remaining)

	return doc, nil
}

// Parts returns the non-empty text blocks of the document with their
// section paths, preamble first. Sections without body text are skipped.
func (d *MarkdownDoc) Parts() []Section {
	var parts []Section
	if p := strings.TrimSpace(d.Preamble); p != "" {
		parts = append(parts, Section{Path: d.Title, Content: p})
	}
	for _, s := range d.Sections {
		if strings.TrimSpace(s.Content) == "" {
			continue
		}
		parts = append(parts, s)
	}
	return parts
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}

func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) (string, []Section) {
	var sections []Section
	var preamble strings.Builder

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	var currentPath []string
	var currentLevels []int

	var current *Section
	var body strings.Builder

	flush := func(endLine int) {
		if current != nil {
			current.Content = strings.TrimSpace(body.String())
			current.End = endLine
			sections = append(sections, *current)
			body.Reset()
		}
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			if current != nil {
				body.WriteString(line)
				body.WriteString("\n")
			} else {
				preamble.WriteString(line)
				preamble.WriteString("\n")
			}
			continue
		}

		flush(lineNum - 1)

		level := len(match[1])
		heading := strings.TrimSpace(match[2])

		for len(currentLevels) > 0 && currentLevels[len(currentLevels)-1] >= level {
			currentPath = currentPath[:len(currentPath)-1]
			currentLevels = currentLevels[:len(currentLevels)-1]
		}
		currentPath = append(currentPath, match[1]+" "+heading)
		currentLevels = append(currentLevels, level)

		current = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(currentPath, " > "),
			Start:   lineNum,
		}
	}

	flush(lineNum)

	return strings.TrimSpace(preamble.String()), sections
}
