package wiki

import (
	"sort"

	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
)

func records(files map[string]string) []extractor.ContentRecord {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]extractor.ContentRecord, len(paths))
	for i, p := range paths {
		out[i] = extractor.ContentRecord{Path: p, Content: files[p], Language: extractor.DetectLanguage(p)}
	}
	return out
}
