// Copyright 2024-2026 Aiku AI

// Package markdown renders the markdown of Guilded chat messages as HTML
// or as plain terminal text. Mentions produced by guilded.ParseContent
// (<@id>) are resolved to display names through a Resolver.
package markdown

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Resolver maps a mention id to a display name.
type Resolver func(id string) (string, bool)

// Rendered holds both renderings of one message.
type Rendered struct {
	Plain string
	HTML  string
	// Formatted is false when the text had no markup and HTML is just the
	// escaped input.
	Formatted bool
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(^|[^\w*])_([^_\n]+)_($|[^\w*])`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`\n]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`^[-*]\s+(.+)$`)
	olRe         = regexp.MustCompile(`^\d+\.\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`^>\s?(.*)$`)
	mentionRe    = regexp.MustCompile(`<@([^<>\s]+)>`)
)

// Render converts text to plain and HTML form. resolve may be nil.
func Render(text string, resolve Resolver) Rendered {
	if text == "" {
		return Rendered{}
	}
	return Rendered{
		Plain:     Plain(text, resolve),
		HTML:      HTML(text, resolve),
		Formatted: hasFormatting(text),
	}
}

func hasFormatting(text string) bool {
	if boldRe.MatchString(text) || strikeRe.MatchString(text) || codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) || linkRe.MatchString(text) || italicRe.MatchString(text) {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if headingRe.MatchString(line) || ulRe.MatchString(line) || olRe.MatchString(line) || blockquoteRe.MatchString(line) {
			return true
		}
	}
	return false
}

func mentionName(id string, resolve Resolver) string {
	if resolve != nil {
		if name, ok := resolve(id); ok && name != "" {
			return name
		}
	}
	return id
}

// Plain strips markup, keeps link targets in parentheses and renders
// mentions as @name.
func Plain(text string, resolve Resolver) string {
	out := codeBlockRe.ReplaceAllString(text, "$2")
	out = mentionRe.ReplaceAllStringFunc(out, func(match string) string {
		return "@" + mentionName(mentionRe.FindStringSubmatch(match)[1], resolve)
	})
	out = linkRe.ReplaceAllString(out, "$1 ($2)")
	out = codeRe.ReplaceAllString(out, "$1")
	out = boldRe.ReplaceAllString(out, "$1")
	out = strikeRe.ReplaceAllString(out, "$1")
	out = italicRe.ReplaceAllString(out, "$1$2$3")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[2]
		} else if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			lines[i] = "| " + m[1]
		}
	}
	return strings.Join(lines, "\n")
}

type codeBlock struct {
	lang    string
	content string
}

func placeholder(kind string, i int) string {
	return "\x00" + kind + strconv.Itoa(i) + "\x00"
}

// HTML converts text to an HTML fragment. Only http, https and mailto
// links become anchors.
func HTML(text string, resolve Resolver) string {
	if text == "" {
		return ""
	}

	var blocks []codeBlock
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		blocks = append(blocks, codeBlock{lang: parts[1], content: parts[2]})
		return placeholder("CODEBLOCK", len(blocks)-1)
	})
	var mentions []string
	processed = mentionRe.ReplaceAllStringFunc(processed, func(match string) string {
		id := mentionRe.FindStringSubmatch(match)[1]
		mentions = append(mentions, `<span class="mention" data-id="`+html.EscapeString(id)+`">@`+
			html.EscapeString(mentionName(id, resolve))+`</span>`)
		return placeholder("MENTION", len(mentions)-1)
	})

	var (
		result    []string
		listTag   string
		listItems []string
		quote     []string
	)
	flushList := func() {
		if len(listItems) > 0 {
			result = append(result, "<"+listTag+">"+strings.Join(listItems, "")+"</"+listTag+">")
		}
		listItems, listTag = nil, ""
	}
	flushQuote := func() {
		if len(quote) > 0 {
			result = append(result, "<blockquote>"+strings.Join(quote, "<br/>")+"</blockquote>")
		}
		quote = nil
	}
	addItem := func(tag, item string) {
		flushQuote()
		if listTag != tag {
			flushList()
			listTag = tag
		}
		listItems = append(listItems, "<li>"+html.EscapeString(item)+"</li>")
	}

	for _, line := range strings.Split(processed, "\n") {
		if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			flushList()
			quote = append(quote, html.EscapeString(m[1]))
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushList()
			flushQuote()
			lvl := strconv.Itoa(len(m[1]))
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
			continue
		}
		if m := ulRe.FindStringSubmatch(line); m != nil {
			addItem("ul", m[1])
			continue
		}
		if m := olRe.FindStringSubmatch(line); m != nil {
			addItem("ol", m[1])
			continue
		}
		flushList()
		flushQuote()
		result = append(result, html.EscapeString(line))
	}
	flushList()
	flushQuote()
	formatted := strings.Join(result, "\n")

	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")
	formatted = italicRe.ReplaceAllString(formatted, "$1<em>$2</em>$3")
	formatted = linkRe.ReplaceAllStringFunc(formatted, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return `<a href="` + href + `">` + label + `</a>`
		}
		return label
	})

	formatted = strings.ReplaceAll(formatted, "\n\n", "</p><p>")
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")
	if strings.Contains(formatted, "</p><p>") {
		formatted = "<p>" + formatted + "</p>"
	}

	// Code blocks go back in last so their newlines survive.
	for i, cb := range blocks {
		content := html.EscapeString(cb.content)
		var replacement string
		if cb.lang != "" {
			replacement = `<pre><code class="language-` + html.EscapeString(cb.lang) + `">` + content + `</code></pre>`
		} else {
			replacement = `<pre><code>` + content + `</code></pre>`
		}
		formatted = strings.Replace(formatted, placeholder("CODEBLOCK", i), replacement, 1)
	}
	for i, m := range mentions {
		formatted = strings.Replace(formatted, placeholder("MENTION", i), m, 1)
	}

	return formatted
}
