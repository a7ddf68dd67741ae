package retrieval

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/WilliamAGH/java-chat-sub001/internal/search"
)

// Citation is the user-facing source reference for one retrieved document.
type Citation struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Snippet  string         `json:"snippet"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const maxSnippetLen = 500

// Citations shapes retrieved documents into source references. Javadoc URLs
// are refined with nested-type pages and member anchors recovered from the
// chunk text, so a citation lands on the method rather than the class page.
func Citations(docs []search.Document) []Citation {
	out := make([]Citation, 0, len(docs))
	for _, d := range docs {
		cited := canonicalURL(d.Payload.URL)
		if isJavadocURL(cited) {
			cited = refineJavadocURL(cited, d.Payload.Title, d.Content)
		}

		title := d.Payload.Title
		if title == "" {
			title = cited
		}

		out = append(out, Citation{
			URL:      cited,
			Title:    title,
			Snippet:  snippet(d.Content),
			Metadata: citationMetadata(d),
		})
	}
	return out
}

// canonicalURL normalizes http(s) URLs: lowercased scheme and host, default
// ports stripped. Anything else (file paths, malformed strings) passes
// through untouched so local sources stay citable.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return raw
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	return u.String()
}

func isJavadocURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.Contains(u.Path, "/api/") && strings.HasSuffix(u.Path, ".html")
}

var (
	// Map.Entry, AbstractMap.SimpleEntry: dotted chains of capitalized
	// segments pulled out of page titles.
	nestedTypeRe = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*(?:\.[A-Z][A-Za-z0-9]*)+\b`)
	// substring(int beginIndex, int endIndex): a lowercase-led identifier
	// glued to a parenthesized parameter list.
	memberSigRe = regexp.MustCompile(`(^|[\s>.])([a-z][A-Za-z0-9_]+)\(([^()]{0,120})\)`)
	genericRe   = regexp.MustCompile(`<[^<>]*>`)
)

// refineJavadocURL upgrades a class-page URL using chunk text heuristics:
// a nested type named in the title moves the citation to its own page, and
// a member signature at the head of the chunk becomes a fragment anchor.
func refineJavadocURL(raw, title, content string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if nested := nestedTypeRe.FindString(title); nested != "" {
		outer := nested[:strings.Index(nested, ".")]
		if path.Base(u.Path) == outer+".html" {
			u.Path = path.Join(path.Dir(u.Path), nested+".html")
		}
	}

	if u.Fragment == "" {
		head := content
		if len(head) > 240 {
			head = head[:240]
		}
		if m := memberSigRe.FindStringSubmatch(head); m != nil {
			u.Fragment = m[2] + "(" + paramTypes(m[3]) + ")"
		}
	}
	return u.String()
}

// paramTypes reduces a parameter list to its comma-joined type names:
// "int beginIndex, int endIndex" becomes "int,int". Generic arguments are
// erased the way Javadoc anchors erase them.
func paramTypes(params string) string {
	params = strings.TrimSpace(params)
	if params == "" {
		return ""
	}
	parts := strings.Split(params, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		p = genericRe.ReplaceAllString(p, "")
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		types = append(types, fields[0])
	}
	return strings.Join(types, ",")
}

func snippet(content string) string {
	if len(content) <= maxSnippetLen {
		return content
	}
	cut := content[:maxSnippetLen]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

func citationMetadata(d search.Document) map[string]any {
	meta := make(map[string]any, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if d.Payload.Package != "" {
		meta["package"] = d.Payload.Package
	}
	if d.Payload.DocVersion != "" {
		meta["docVersion"] = d.Payload.DocVersion
	}
	if d.Payload.PageStart > 0 {
		meta["pageStart"] = d.Payload.PageStart
	}
	if d.Payload.PageEnd > 0 {
		meta["pageEnd"] = d.Payload.PageEnd
	}
	return meta
}
