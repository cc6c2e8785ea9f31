package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docupipe/contractscan/constants"
)

// DiscoverFiles lists processable documents under root. Non-recursive
// mode reads only the top level; recursive mode walks nested folders.
// Hidden files and unsupported extensions are skipped. The result is
// sorted so batch runs are deterministic.
func DiscoverFiles(root string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		if !supported(root) {
			return nil, fmt.Errorf("unsupported file type: %s", root)
		}
		return []string{root}, nil
	}

	var files []string
	if recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if supported(path) && !strings.HasPrefix(d.Name(), ".") {
				files = append(files, path)
			}
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(root)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
					continue
				}
				path := filepath.Join(root, e.Name())
				if supported(path) {
					files = append(files, path)
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

func supported(path string) bool {
	ext := constants.NormalizeExt(filepath.Ext(path))
	_, ok := constants.AllowedExtensions[ext]
	return ok
}
