package chunker

// DefaultChunkSize bounds one transcription request payload. The remote API
// rejects oversized requests and inline media is base64-encoded on the wire
// (~4/3 inflation), so 6 MiB of raw bytes keeps the encoded request under the
// transport ceiling with headroom.
const DefaultChunkSize = 6 * 1024 * 1024

// Split partitions data into ordered, contiguous, non-overlapping subslices
// of at most chunkSize bytes covering the whole payload. Empty input yields
// a single empty chunk so downstream still runs one degenerate segment.
// Slices alias the input; callers must not mutate data while chunks live.
func Split(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}

	total := (len(data) + chunkSize - 1) / chunkSize
	chunks := make([][]byte, 0, total)
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Count returns how many chunks Split would produce for a payload of size
// bytes without materializing them.
func Count(size int64, chunkSize int) int {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if size <= 0 {
		return 1
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}
