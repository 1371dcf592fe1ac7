// Package vectorstore implements the hybrid dense+sparse vector store
// adapter: a dense cosine-similarity store (Qdrant) and a
// sparse BM25 keyword store (Bleve), unified behind one Upsert/Delete/Query
// facade.
package vectorstore

// Point is one chunk's vector-store row. Id is
// hash(file_path, ordinal, embedding_version), making Upsert idempotent by
// id.
type Point struct {
	ID         uint64
	Dense      []float32
	SparseText string // raw chunk text fed to the BM25 analyzer; empty skips sparse indexing
	Payload    Payload
}

// Payload is the metadata carried alongside each point, used for filtering
// and result hydration without a round-trip to the state store.
type Payload struct {
	FilePath   string
	FolderPath string
	Ordinal    int
	Text       string
	TokenCount int
	FileMIME   string
}

// Filter narrows Query and DeleteByFilter: a folder subtree, optional
// include/exclude folder lists, and an optional file_mime include list.
//
// FolderPath matches the folder itself and everything beneath it, which is
// what every purge path wants (file deletes use FilePath). The dense
// adapter pushes this down natively by indexing each point's folder
// ancestry; the sparse adapter applies Matches per hit.
type Filter struct {
	FolderPath     string // subtree match: the folder or any folder beneath it
	IncludeFolders []string
	ExcludeFolders []string
	IncludeMIMEs   []string
	FilePath       string // exact match, used to purge a single file's points
}

// Matches reports whether payload satisfies f's folder constraints
// (FolderPath, IncludeFolders, ExcludeFolders); IncludeMIMEs and FilePath
// are not checked here. Used by the Bleve sparse adapter (which has no
// native filtered-query support) as its folder filter.
func (f Filter) Matches(p Payload) bool {
	if f.FolderPath != "" {
		if p.FolderPath != f.FolderPath && !hasPrefixSlash(p.FolderPath, f.FolderPath) {
			return false
		}
	}
	if len(f.IncludeFolders) > 0 && !contains(f.IncludeFolders, p.FolderPath) {
		return false
	}
	for _, excl := range f.ExcludeFolders {
		if p.FolderPath == excl {
			return false
		}
	}
	return true
}

func hasPrefixSlash(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// ScoredPoint is one Query result.
type ScoredPoint struct {
	ID      uint64
	Score   float64
	Payload Payload
}

// PointID hashes a chunk's natural key into the uint64 id Qdrant expects
// for a numeric point id. FNV-1a keeps this deterministic and
// dependency-free.
func PointID(filePath string, ordinal int, embeddingVersion int) uint64 {
	h := fnv64a(filePath, ordinal, embeddingVersion)
	return h
}

func fnv64a(filePath string, ordinal, embeddingVersion int) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(filePath); i++ {
		h ^= uint64(filePath[i])
		h *= prime64
	}
	for _, n := range []int{ordinal, embeddingVersion} {
		b := [8]byte{
			byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24),
			byte(n >> 32), byte(n >> 40), byte(n >> 48), byte(n >> 56),
		}
		for _, c := range b {
			h ^= uint64(c)
			h *= prime64
		}
	}
	return h
}
