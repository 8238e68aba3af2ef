package upload

import (
	"path/filepath"
	"strings"
)

const maxFilenameLength = 255

// SanitizeFilename reduces a client supplied name to a bare file name without
// directory components or control characters. The name is stored on the
// source file and later read by the transcoder for track number guessing.
func SanitizeFilename(filename string) string {
	if idx := strings.LastIndexAny(filename, `/\`); idx != -1 {
		filename = filename[idx+1:]
	}

	var b strings.Builder
	for _, r := range filename {
		if r < 32 || r == 127 {
			continue
		}
		switch r {
		case ':', '*', '?', '"', '<', '>', '|':
			continue
		}
		b.WriteRune(r)
	}

	result := strings.Trim(b.String(), ". ")

	if len(result) > maxFilenameLength {
		ext := filepath.Ext(result)
		name := strings.TrimSuffix(result, ext)
		if keep := maxFilenameLength - len(ext); keep > 0 && len(name) > keep {
			name = name[:keep]
		}
		result = name + ext
	}

	if result == "" {
		return "unnamed_file"
	}
	return result
}
