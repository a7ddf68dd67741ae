package document

import (
	"math"
	"strings"
)

// Document is one ingestable source: a parsed Javadoc page, a PDF, a book
// chapter, or an article. Metadata fields map one-to-one onto payload keys;
// blank fields stay out of the stored payload.
type Document struct {
	URL             string
	Title           string
	Package         string
	DocSet          string
	DocPath         string
	SourceName      string
	SourceKind      string
	DocVersion      string
	DocType         string
	FilePath        string
	Language        string
	RepoURL         string
	RepoOwner       string
	RepoName        string
	RepoKey         string
	RepoBranch      string
	CommitHash      string
	License         string
	RepoDescription string
	Content         string
	PageStart       int
	PageEnd         int
}

// Payload is the typed view of the metadata stored alongside each vector
// point. Reading is whitelist-only: keys outside the schema are dropped.
type Payload struct {
	DocContent      string
	URL             string
	Title           string
	Package         string
	Hash            string
	DocSet          string
	DocPath         string
	SourceName      string
	SourceKind      string
	DocVersion      string
	DocType         string
	FilePath        string
	Language        string
	RepoURL         string
	RepoOwner       string
	RepoName        string
	RepoKey         string
	RepoBranch      string
	CommitHash      string
	License         string
	RepoDescription string
	ChunkIndex      int
	PageStart       int
	PageEnd         int
}

// PayloadMap flattens one chunk of the document into the wire payload.
// String fields are included only when non-blank; chunkIndex is always
// present; page bounds appear only when the document carries them.
func (d Document) PayloadMap(chunkText, hash string, chunkIndex int) map[string]any {
	m := map[string]any{
		"doc_content": chunkText,
		"chunkIndex":  chunkIndex,
	}
	putString(m, "url", d.URL)
	putString(m, "title", d.Title)
	putString(m, "package", d.Package)
	putString(m, "hash", hash)
	putString(m, "docSet", d.DocSet)
	putString(m, "docPath", d.DocPath)
	putString(m, "sourceName", d.SourceName)
	putString(m, "sourceKind", d.SourceKind)
	putString(m, "docVersion", d.DocVersion)
	putString(m, "docType", d.DocType)
	putString(m, "filePath", d.FilePath)
	putString(m, "language", d.Language)
	putString(m, "repoUrl", d.RepoURL)
	putString(m, "repoOwner", d.RepoOwner)
	putString(m, "repoName", d.RepoName)
	putString(m, "repoKey", d.RepoKey)
	putString(m, "repoBranch", d.RepoBranch)
	putString(m, "commitHash", d.CommitHash)
	putString(m, "license", d.License)
	putString(m, "repoDescription", d.RepoDescription)
	if d.PageStart > 0 {
		m["pageStart"] = d.PageStart
	}
	if d.PageEnd > 0 {
		m["pageEnd"] = d.PageEnd
	}
	return m
}

// PayloadFromMap reads a stored payload back through the schema whitelist.
// Integer fields tolerate the numeric types JSON and gRPC decoding produce
// and are clamped to int32 range.
func PayloadFromMap(m map[string]any) Payload {
	var p Payload
	p.DocContent = getString(m, "doc_content")
	p.URL = getString(m, "url")
	p.Title = getString(m, "title")
	p.Package = getString(m, "package")
	p.Hash = getString(m, "hash")
	p.DocSet = getString(m, "docSet")
	p.DocPath = getString(m, "docPath")
	p.SourceName = getString(m, "sourceName")
	p.SourceKind = getString(m, "sourceKind")
	p.DocVersion = getString(m, "docVersion")
	p.DocType = getString(m, "docType")
	p.FilePath = getString(m, "filePath")
	p.Language = getString(m, "language")
	p.RepoURL = getString(m, "repoUrl")
	p.RepoOwner = getString(m, "repoOwner")
	p.RepoName = getString(m, "repoName")
	p.RepoKey = getString(m, "repoKey")
	p.RepoBranch = getString(m, "repoBranch")
	p.CommitHash = getString(m, "commitHash")
	p.License = getString(m, "license")
	p.RepoDescription = getString(m, "repoDescription")
	p.ChunkIndex = getInt(m, "chunkIndex")
	p.PageStart = getInt(m, "pageStart")
	p.PageEnd = getInt(m, "pageEnd")
	return p
}

func putString(m map[string]any, key, value string) {
	if strings.TrimSpace(value) != "" {
		m[key] = value
	}
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case uint64:
		if t > math.MaxInt64 {
			return math.MaxInt32
		}
		n = int64(t)
	case float64:
		n = int64(t)
	default:
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int(n)
}
