package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type FileEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size,omitempty"`
	ModTime int64  `json:"mod_time,omitempty"`
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".vtt": true,
}

func IsSubtitleFile(name string) bool {
	return subtitleExtensions[strings.ToLower(filepath.Ext(name))]
}

// Resolve joins relativePath onto basePath and rejects paths that escape it
func Resolve(basePath, relativePath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(filepath.Join(absBase, relativePath))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absFull)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	return absFull, nil
}

// ListDirectory returns the visible entries of one directory, directories
// first
func ListDirectory(basePath, relativePath string) ([]*FileEntry, error) {
	fullPath, err := Resolve(basePath, relativePath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}

	result := []*FileEntry{}
	for _, entry := range entries {
		// Skip hidden and lock files
		if strings.HasPrefix(entry.Name(), ".") || strings.HasSuffix(entry.Name(), lockSuffix) {
			continue
		}
		if !entry.IsDir() && !IsSubtitleFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		fe := &FileEntry{
			Name:    entry.Name(),
			Path:    filepath.ToSlash(filepath.Join(relativePath, entry.Name())),
			IsDir:   entry.IsDir(),
			ModTime: info.ModTime().Unix(),
		}
		if !entry.IsDir() {
			fe.Size = info.Size()
		}
		result = append(result, fe)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].IsDir != result[j].IsDir {
			return result[i].IsDir
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Search walks basePath for subtitle files whose name contains query
func Search(basePath, query string, maxResults int) ([]*FileEntry, error) {
	query = strings.ToLower(query)
	results := []*FileEntry{}

	err := filepath.Walk(basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if len(results) >= maxResults {
			return filepath.SkipAll
		}
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() && path != basePath {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !IsSubtitleFile(info.Name()) {
			return nil
		}
		if strings.Contains(strings.ToLower(info.Name()), query) {
			rel, _ := filepath.Rel(basePath, path)
			results = append(results, &FileEntry{
				Name:    info.Name(),
				Path:    filepath.ToSlash(rel),
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
			})
		}
		return nil
	})
	return results, err
}
