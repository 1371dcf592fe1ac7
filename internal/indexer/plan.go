package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"

	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
)

// opKind is the action the plan assigns to one file.
type opKind string

const (
	opAdd    opKind = "add"
	opUpdate opKind = "update"
	opDelete opKind = "delete"
	opNoop   opKind = "noop"
)

// planItem is one file's planned action within a folder scan.
type planItem struct {
	logicalPath string
	op          opKind
	existing    *types.File // nil for opAdd
}

// plan enumerates folderPath's direct file children on disk, reconciles
// against the state store, and returns a file-level plan. Subdirectories
// are not recursed into: each is its own Folder and is scanned by its own
// enqueue.
func (idx *Indexer) plan(ctx context.Context, folderPath string) ([]planItem, error) {
	absDir := idx.absPath(folderPath)
	entries, err := idx.fs.ReadDir(absDir)
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]struct{}, len(entries))
	var items []planItem
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		logical := joinLogical(folderPath, e.Name)
		onDisk[logical] = struct{}{}
	}

	existing, err := idx.store.ListFiles(ctx, store.FileFilter{FolderPath: folderPath})
	if err != nil {
		return nil, err
	}
	existingByPath := make(map[string]*types.File, len(existing))
	for _, f := range existing {
		existingByPath[f.Path] = f
	}

	for logical := range onDisk {
		ex, known := existingByPath[logical]
		if !known {
			items = append(items, planItem{logicalPath: logical, op: opAdd})
			continue
		}
		hash, hashErr := idx.hashFile(logical)
		if hashErr != nil {
			return nil, hashErr
		}
		ex.ContentHash = hash

		chunkVersion := 0
		storedChunks := 0
		if chunks, chErr := idx.store.ListChunks(ctx, logical); chErr == nil {
			storedChunks = len(chunks)
			if storedChunks > 0 {
				chunkVersion = chunks[0].EmbeddingVersion
			}
		}
		if ex.NeedsReindex(idx.embeddingVersion, chunkVersion, storedChunks) {
			items = append(items, planItem{logicalPath: logical, op: opUpdate, existing: ex})
		} else {
			items = append(items, planItem{logicalPath: logical, op: opNoop, existing: ex})
		}
	}

	for logical, ex := range existingByPath {
		if _, stillThere := onDisk[logical]; !stillThere {
			items = append(items, planItem{logicalPath: logical, op: opDelete, existing: ex})
		}
	}

	return items, nil
}

// hashFile reads logical's bytes and returns their hex sha256, the content
// hash tracked on types.File.ContentHash.
func (idx *Indexer) hashFile(logical string) (string, error) {
	content, err := idx.fs.ReadFile(idx.absPath(logical))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

func (idx *Indexer) absPath(logical string) string {
	return filepath.Join(idx.root, filepath.FromSlash(logical))
}

func joinLogical(folder, name string) string {
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}
