package upload

const (
	MiB = 1024 * 1024

	// MultipartThreshold is the largest file uploaded with a single PUT.
	MultipartThreshold int64 = 16 * MiB
	// MinPartSize is the size of every part but the last, which carries the
	// remainder and so lies in [MinPartSize, 2*MinPartSize).
	MinPartSize int64 = 8 * MiB
)

// SplitIntoParts returns the part sizes for a file of size bytes. A file up to
// MultipartThreshold is a single part. size must be positive.
func SplitIntoParts(size int64) []int64 {
	if size <= MultipartThreshold {
		return []int64{size}
	}

	n := size / MinPartSize
	parts := make([]int64, n)
	for i := range parts {
		parts[i] = MinPartSize
	}
	parts[n-1] += size % MinPartSize
	return parts
}

// IsMultipart reports whether a file of size bytes needs a multipart upload.
func IsMultipart(size int64) bool {
	return size > MultipartThreshold
}
