// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// allowedTags are the elements a formatted message body may contain,
// with the attributes each may carry.
var allowedTags = map[atom.Atom][]string{
	atom.Font:       {"color", "data-mx-bg-color", "data-mx-color"},
	atom.Span:       {"data-mx-bg-color", "data-mx-color", "data-mx-spoiler"},
	atom.A:          {"href", "title"},
	atom.Img:        {"alt", "title", "width", "height"},
	atom.Ol:         {"start"},
	atom.Code:       {"class"},
	atom.Del:        nil,
	atom.H1:         nil,
	atom.H2:         nil,
	atom.H3:         nil,
	atom.H4:         nil,
	atom.H5:         nil,
	atom.H6:         nil,
	atom.Blockquote: nil,
	atom.P:          nil,
	atom.Ul:         nil,
	atom.Li:         nil,
	atom.Sup:        nil,
	atom.Sub:        nil,
	atom.B:          nil,
	atom.I:          nil,
	atom.U:          nil,
	atom.S:          nil,
	atom.Strong:     nil,
	atom.Em:         nil,
	atom.Strike:     nil,
	atom.Hr:         nil,
	atom.Br:         nil,
	atom.Div:        nil,
	atom.Table:      nil,
	atom.Thead:      nil,
	atom.Tbody:      nil,
	atom.Tr:         nil,
	atom.Th:         nil,
	atom.Td:         nil,
	atom.Caption:    nil,
	atom.Pre:        nil,
	atom.Details:    nil,
	atom.Summary:    nil,
}

// droppedContent lists elements removed together with everything
// inside them. mx-reply holds the quoted fallback of a reply, which
// the archive already has as its own event.
var droppedContent = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"title":    true,
	"textarea": true,
	"iframe":   true,
	"object":   true,
	"mx-reply": true,
}

var allowedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"ftp":    true,
	"mailto": true,
	"magnet": true,
}

// sanitizeHTML returns the subset of a formatted message body that is
// safe to embed in the archive page. Disallowed elements are unwrapped
// (their text is kept); scripts, styles and reply fallbacks are removed
// with their content. Every open element is closed at the end.
//
// Images are rendered as their alt text: the archive stores media under
// local paths, and inline images point at remote content.
func sanitizeHTML(input string) string {
	var output strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var open []atom.Atom
	skipDepth := 0
	var skipName string

	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			// io.EOF or a malformed tail; either way the input ends here.
			break
		}
		token := tokenizer.Token()

		if skipDepth > 0 {
			switch {
			case tokenType == html.StartTagToken && token.Data == skipName:
				skipDepth++
			case tokenType == html.EndTagToken && token.Data == skipName:
				skipDepth--
			}
			continue
		}

		switch tokenType {
		case html.TextToken:
			output.WriteString(html.EscapeString(token.Data))

		case html.StartTagToken, html.SelfClosingTagToken:
			if droppedContent[token.Data] {
				if tokenType == html.StartTagToken {
					skipDepth = 1
					skipName = token.Data
				}
				continue
			}
			if token.DataAtom == atom.Img {
				if alt := attribute(token, "alt"); alt != "" {
					output.WriteString(html.EscapeString(alt))
				}
				continue
			}
			attributes, allowed := allowedTags[token.DataAtom]
			if !allowed {
				continue
			}
			output.WriteByte('<')
			output.WriteString(token.DataAtom.String())
			for _, name := range attributes {
				value, ok := attributeValue(token, name)
				if !ok || !safeAttribute(token.DataAtom, name, value) {
					continue
				}
				output.WriteByte(' ')
				output.WriteString(name)
				output.WriteString(`="`)
				output.WriteString(html.EscapeString(value))
				output.WriteByte('"')
			}
			if token.DataAtom == atom.A {
				output.WriteString(` rel="noopener noreferrer nofollow"`)
			}
			output.WriteByte('>')
			if !isVoid(token.DataAtom) && tokenType == html.StartTagToken {
				open = append(open, token.DataAtom)
			}

		case html.EndTagToken:
			if _, allowed := allowedTags[token.DataAtom]; !allowed || isVoid(token.DataAtom) {
				continue
			}
			// Close everything opened after the matching element.
			for index := len(open) - 1; index >= 0; index-- {
				if open[index] != token.DataAtom {
					continue
				}
				for len(open) > index {
					last := open[len(open)-1]
					open = open[:len(open)-1]
					output.WriteString("</" + last.String() + ">")
				}
				break
			}
		}
	}

	for index := len(open) - 1; index >= 0; index-- {
		output.WriteString("</" + open[index].String() + ">")
	}
	return output.String()
}

// plainText returns the text content of an HTML fragment, escaped.
func plainText(input string) string {
	var output strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(input))
	skipDepth := 0
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return output.String()
		}
		token := tokenizer.Token()
		switch tokenType {
		case html.StartTagToken:
			if droppedContent[token.Data] || skipDepth > 0 {
				skipDepth++
			} else if token.DataAtom == atom.Br || token.DataAtom == atom.P {
				output.WriteString("\n")
			}
		case html.EndTagToken:
			if skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				output.WriteString(html.EscapeString(token.Data))
			}
		}
	}
}

func safeAttribute(element atom.Atom, name, value string) bool {
	switch {
	case element == atom.A && name == "href":
		parsed, err := url.Parse(strings.TrimSpace(value))
		if err != nil {
			return false
		}
		return allowedSchemes[strings.ToLower(parsed.Scheme)]
	case element == atom.Code && name == "class":
		return strings.HasPrefix(value, "language-") && !strings.ContainsAny(value, " \"'<>")
	case strings.HasSuffix(name, "color"):
		return isColor(value)
	}
	return true
}

func isColor(value string) bool {
	if len(value) != 7 || value[0] != '#' {
		return false
	}
	for _, c := range value[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func isVoid(element atom.Atom) bool {
	return element == atom.Br || element == atom.Hr || element == atom.Img
}

func attribute(token html.Token, name string) string {
	value, _ := attributeValue(token, name)
	return value
}

func attributeValue(token html.Token, name string) (string, bool) {
	for _, attr := range token.Attr {
		if attr.Namespace == "" && attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}
