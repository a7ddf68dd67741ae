package vectorstore

import (
	"strings"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
)

// Router maps document provenance onto one of the four core collections.
// Routing is a pure function of (docSet, docPath, docType, url); the same
// inputs always land in the same bucket, which is what keeps re-ingest
// idempotent.
type Router struct {
	cols config.CollectionsConfig
}

func NewRouter(cols config.CollectionsConfig) *Router {
	return &Router{cols: cols}
}

// Route picks the bucket for a document. Priority: books beat articles beat
// PDFs beat the docs default, so a PDF inside a book doc-set still files
// under books.
func (r *Router) Route(docSet, docPath, docType, url string) string {
	docSet = normalize(docSet)
	docPath = normalize(docPath)
	docType = normalize(docType)
	url = normalize(url)

	if strings.HasPrefix(docSet, "books") {
		return r.cols.Books
	}
	if docType == "blog" ||
		strings.HasPrefix(docSet, "ibm/articles") ||
		strings.HasPrefix(docSet, "jetbrains/") {
		return r.cols.Articles
	}
	if strings.HasSuffix(url, ".pdf") ||
		strings.HasSuffix(docPath, ".pdf") ||
		strings.Contains(url, "/pdfs/") ||
		docType == "pdf" {
		return r.cols.PDFs
	}
	return r.cols.Docs
}

// Core returns the four fixed collections in fan-out order.
func (r *Router) Core() []string {
	return r.cols.All()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
