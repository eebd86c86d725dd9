// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import "testing"

func TestSanitizeHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"allowed tag", "<b>bold</b>", "<b>bold</b>"},
		{"paragraph", "<p>a</p>", "<p>a</p>"},
		{"script removed with content", "<script>alert(1)</script>hi", "hi"},
		{"style removed with content", "<style>b{}</style>text", "text"},
		{"reply fallback removed", "<mx-reply><blockquote>quoted</blockquote></mx-reply>reply", "reply"},
		{"unknown tag unwrapped", "<marquee>text</marquee>", "text"},
		{"event handler dropped", `<div onclick="x()">text</div>`, "<div>text</div>"},
		{"safe link", `<a href="https://example.org">x</a>`, `<a href="https://example.org" rel="noopener noreferrer nofollow">x</a>`},
		{"javascript link", `<a href="javascript:alert(1)">x</a>`, `<a rel="noopener noreferrer nofollow">x</a>`},
		{"mailto link", `<a href="mailto:a@example.org">x</a>`, `<a href="mailto:a@example.org" rel="noopener noreferrer nofollow">x</a>`},
		{"image becomes alt text", `<img src="mxc://example.org/abc" alt="pic">`, "pic"},
		{"image without alt", `<img src="mxc://example.org/abc">`, ""},
		{"hex colour kept", `<font color="#ff0000">x</font>`, `<font color="#ff0000">x</font>`},
		{"named colour dropped", `<font color="red">x</font>`, "<font>x</font>"},
		{"code language kept", `<code class="language-go">x</code>`, `<code class="language-go">x</code>`},
		{"code class dropped", `<code class="evil">x</code>`, "<code>x</code>"},
		{"text escaped", "a &lt; b", "a &lt; b"},
		{"unclosed closed", "<b>unclosed", "<b>unclosed</b>"},
		{"misnested", "<i><b>x</i>y</b>", "<i><b>x</b></i>y"},
		{"self closing break", "a<br/>b", "a<br>b"},
		{"stray end tag", "a</b>", "a"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeHTML(test.input); got != test.want {
				t.Errorf("sanitizeHTML(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	got := plainText("<p>one</p><p>two<br>three &amp; four</p><mx-reply>quoted</mx-reply><script>x</script>")
	want := "\none\ntwo\nthree &amp; four"
	if got != want {
		t.Errorf("plainText = %q, want %q", got, want)
	}
}
