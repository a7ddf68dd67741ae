package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Store persists parsed chunk text and ingest markers on the local
// filesystem. parsedDir holds one <safe_url>_<index>_<hash12>.txt file per
// chunk; indexDir holds one empty marker file per fully ingested hash.
type Store struct {
	parsedDir string
	indexDir  string
}

func NewStore(parsedDir, indexDir string) (*Store, error) {
	if parsedDir == "" || indexDir == "" {
		return nil, fmt.Errorf("parsed and index directories are required")
	}
	for _, dir := range []string{parsedDir, indexDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &Store{parsedDir: parsedDir, indexDir: indexDir}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ToSafeName substitutes every character outside [A-Za-z0-9._-] with '_'.
func ToSafeName(url string) string {
	return unsafeChars.ReplaceAllString(url, "_")
}

// ChunkFileName builds the parsed-file name for one chunk. Only the first 12
// hash characters go into the name; the full hash lives in the vector store
// payload and the ingest marker.
func ChunkFileName(url string, index int, hash string) string {
	short := hash
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s_%d_%s.txt", ToSafeName(url), index, short)
}

// SaveChunkText writes one chunk file via temp file and rename so readers
// never observe partial content. Malformed UTF-8 is replaced on the way in.
func (s *Store) SaveChunkText(url string, index int, text, hash string) error {
	if hash == "" {
		return fmt.Errorf("hash must not be blank")
	}
	if err := os.MkdirAll(s.parsedDir, 0o755); err != nil {
		return fmt.Errorf("creating parsed dir: %w", err)
	}

	name := ChunkFileName(url, index, hash)
	tmp, err := os.CreateTemp(s.parsedDir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp chunk file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.ToValidUTF8(text, "�")); err != nil {
		tmp.Close()
		return fmt.Errorf("writing chunk file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing chunk file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.parsedDir, name)); err != nil {
		return fmt.Errorf("publishing chunk file: %w", err)
	}
	return nil
}

// IsHashIngested reports whether the marker for hash exists.
func (s *Store) IsHashIngested(hash string) bool {
	if hash == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(s.indexDir, hash))
	return err == nil
}

// MarkHashIngested drops an empty marker file named after the hash. Callers
// must only do this after the vector store acknowledged the upsert.
func (s *Store) MarkHashIngested(hash string) error {
	if hash == "" {
		return fmt.Errorf("hash must not be blank")
	}
	if err := os.MkdirAll(s.indexDir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.indexDir, hash), nil, 0o644); err != nil {
		return fmt.Errorf("writing ingest marker: %w", err)
	}
	return nil
}

// ChunkFile is one parsed chunk file attributed to a source URL.
type ChunkFile struct {
	Path       string
	Index      int
	HashPrefix string
}

// ListChunkFiles returns the parsed files recorded for url, sorted by chunk
// index. Files whose names do not match the chunk naming scheme are ignored.
func (s *Store) ListChunkFiles(url string) ([]ChunkFile, error) {
	entries, err := os.ReadDir(s.parsedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading parsed dir: %w", err)
	}

	re, err := regexp.Compile(`^` + regexp.QuoteMeta(ToSafeName(url)) + `_(\d+)_([0-9a-f]{12})\.txt$`)
	if err != nil {
		return nil, fmt.Errorf("building chunk file pattern: %w", err)
	}

	var files []ChunkFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, ChunkFile{
			Path:       filepath.Join(s.parsedDir, e.Name()),
			Index:      idx,
			HashPrefix: m[2],
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })
	return files, nil
}
