// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/irl/matrix-floppy/archive"
)

// funcs holds the state the template functions close over. Everything
// here is read-only after New, so one Renderer may render concurrently.
type funcs struct {
	location     *time.Location
	allowHTML    bool
	markdown     goldmark.Markdown
	style        *chroma.Style
	sourceFormat *chromahtml.Formatter
	sourceLexer  chroma.Lexer
}

func newFuncs(location *time.Location, allowHTML bool, styleName string) (*funcs, error) {
	style, ok := styles.Registry[styleName]
	if !ok {
		return nil, fmt.Errorf("render: unknown highlight style %q", styleName)
	}
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return &funcs{
		location:  location,
		allowHTML: allowHTML,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
		style:        style,
		sourceFormat: chromahtml.New(chromahtml.WithClasses(false)),
		sourceLexer:  chroma.Coalesce(lexer),
	}, nil
}

func (f *funcs) funcMap() template.FuncMap {
	return template.FuncMap{
		"isText":      func(e archive.Event) bool { return e.Kind == archive.KindText || e.Kind == archive.KindFormatted },
		"isFormatted": func(e archive.Event) bool { return e.Kind == archive.KindFormatted },
		"isImage":     func(e archive.Event) bool { return e.Kind == archive.KindImage },
		"isAudio":     func(e archive.Event) bool { return e.Kind == archive.KindAudio },
		"isVideo":     func(e archive.Event) bool { return e.Kind == archive.KindVideo },
		"isFile":      func(e archive.Event) bool { return e.Kind == archive.KindFile },
		"kind":        func(e archive.Event) string { return e.Kind.String() },
		"timestamp":   f.timestamp,
		"mediaPath":   mediaPath,
		"linkPath":    linkPath,
		"markdown":    f.renderMarkdown,
		"trustedHTML": f.trustedHTML,
		"source":      f.source,
		"bytes":       func(size int64) string { return humanize.Bytes(uint64(max(size, 0))) },
	}
}

// timestamp formats a millisecond server timestamp as a local ISO-8601
// string. Fractional seconds appear only when non-zero, as six digits.
func (f *funcs) timestamp(milliseconds int64) string {
	t := time.UnixMilli(milliseconds).In(f.location)
	formatted := t.Format("2006-01-02T15:04:05")
	if micros := t.Nanosecond() / 1000; micros != 0 {
		formatted += fmt.Sprintf(".%06d", micros)
	}
	return formatted
}

// mediaPath returns the link to an event's downloaded media, relative
// to the directory holding the room pages.
func mediaPath(event archive.Event) string {
	if event.Media.IsZero() {
		return ""
	}
	return linkPath(archive.MediaPath(event.Media.URI))
}

// linkPath turns a relative file path into a relative URL. Every
// segment is escaped, including ':' so that a server name with a port
// is not read as a URL scheme.
func linkPath(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for index, segment := range segments {
		segments[index] = strings.ReplaceAll(url.PathEscape(segment), ":", "%3A")
	}
	return strings.Join(segments, "/")
}

// renderMarkdown renders a plain message body as GitHub-flavoured
// markdown. Raw HTML in the body is omitted.
func (f *funcs) renderMarkdown(body string) (template.HTML, error) {
	var buffer bytes.Buffer
	if err := f.markdown.Convert([]byte(body), &buffer); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return template.HTML(buffer.String()), nil
}

// trustedHTML returns a formatted message body reduced to the allowed
// tag set. With formatted HTML disabled only its text is kept.
func (f *funcs) trustedHTML(formatted string) template.HTML {
	if !f.allowHTML {
		return template.HTML(strings.ReplaceAll(plainText(formatted), "\n", "<br>"))
	}
	return template.HTML(sanitizeHTML(formatted))
}

// source returns the event JSON, indented and syntax highlighted.
func (f *funcs) source(event archive.Event) (template.HTML, error) {
	var indented bytes.Buffer
	if err := json.Indent(&indented, event.Raw, "", "  "); err != nil {
		// Not JSON; show it as text.
		return template.HTML("<pre>" + template.HTMLEscapeString(string(event.Raw)) + "</pre>"), nil
	}
	iterator, err := f.sourceLexer.Tokenise(nil, indented.String())
	if err != nil {
		return "", fmt.Errorf("render: tokenising event source: %w", err)
	}
	var highlighted bytes.Buffer
	if err := f.sourceFormat.Format(&highlighted, f.style, iterator); err != nil {
		return "", fmt.Errorf("render: highlighting event source: %w", err)
	}
	return template.HTML(highlighted.String()), nil
}
