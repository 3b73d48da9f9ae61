package tts

import "context"

// DefaultChunkSize bounds each chunk handed to the transport layer. A few
// KB keeps time-to-first-byte low without flooding slow consumers.
const DefaultChunkSize = 4096

// streamBuffer is the producer-side channel capacity. The producer blocks
// once the consumer falls this many chunks behind, which is the
// backpressure the transport relies on.
const streamBuffer = 8

// ChunkStream splits a completed audio buffer into a lazy, finite,
// non-restartable chunk sequence. Byte order is preserved and chunks from
// distinct calls are never merged. Cancelling ctx stops future chunk
// production; chunks already emitted stay delivered.
func ChunkStream(ctx context.Context, data []byte, chunkSize int) <-chan StreamChunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	out := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(out)

		for offset := 0; offset < len(data); offset += chunkSize {
			end := offset + chunkSize
			if end > len(data) {
				end = len(data)
			}

			chunk := StreamChunk{
				Data:  data[offset:end],
				Final: end == len(data),
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
