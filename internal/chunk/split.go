package chunk

import (
	"chatify/internal/content"
	"chatify/internal/models"
)

const (
	// DefaultSize is the length of one slice of encoded image data.
	DefaultSize = 500000
	// DefaultThreshold is the encoded payload length above which an image is chunked.
	DefaultThreshold = 1000000
)

// Split cuts data into consecutive slices of at most size bytes.
func Split(data string, size int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	chunks := make([]string, 0, (len(data)+size-1)/size)
	for i := 0; i < len(data); i += size {
		end := min(i+size, len(data))
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

// Plan turns an image message into the ordered slices sent for it, followed by
// the metadata event that closes the transfer. The data URL header is not sent;
// receivers rebuild it from the mime type.
func Plan(msg models.Message, size int) ([]models.ImageChunk, models.ImageMetadata) {
	mimeType, data, ok := content.ParseDataURL(msg.Content)
	if !ok {
		data = msg.Content
	}
	mimeType = content.DetectMIME(msg.Content, firstNonEmpty(msg.MimeType, mimeType))

	parts := Split(data, size)
	chunks := make([]models.ImageChunk, len(parts))
	for i, part := range parts {
		chunks[i] = models.ImageChunk{
			ID:          msg.ID,
			From:        msg.From,
			To:          msg.To,
			ChunkIndex:  i,
			TotalChunks: len(parts),
			Chunk:       part,
			FileName:    msg.FileName,
			FileSize:    msg.FileSize,
			MimeType:    mimeType,
			IsLastChunk: i == len(parts)-1,
			Timestamp:   msg.Timestamp,
		}
	}

	meta := models.ImageMetadata{
		From:        msg.From,
		To:          msg.To,
		TotalChunks: len(parts),
		FileName:    msg.FileName,
		FileSize:    msg.FileSize,
		MimeType:    mimeType,
	}
	return chunks, meta
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
