package tts

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func collect(t *testing.T, stream <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestChunkStreamPreservesOrderAndBytes(t *testing.T) {
	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	chunks := collect(t, ChunkStream(context.Background(), data, 1024))

	var reassembled []byte
	for i, chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk %d carried error: %v", i, chunk.Err)
		}
		reassembled = append(reassembled, chunk.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled stream differs from source buffer")
	}
}

func TestChunkStreamBoundaries(t *testing.T) {
	data := make([]byte, 2500)
	chunks := collect(t, ChunkStream(context.Background(), data, 1000))

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, want := range []int{1000, 1000, 500} {
		if len(chunks[i].Data) != want {
			t.Errorf("chunk %d: len = %d, want %d", i, len(chunks[i].Data), want)
		}
	}
}

func TestChunkStreamFinalFlag(t *testing.T) {
	chunks := collect(t, ChunkStream(context.Background(), make([]byte, 300), 100))

	for i, chunk := range chunks {
		want := i == len(chunks)-1
		if chunk.Final != want {
			t.Errorf("chunk %d: Final = %v, want %v", i, chunk.Final, want)
		}
	}
}

func TestChunkStreamEmptyBuffer(t *testing.T) {
	chunks := collect(t, ChunkStream(context.Background(), nil, 100))
	if len(chunks) != 0 {
		t.Fatalf("got %d chunks from empty buffer, want 0", len(chunks))
	}
}

func TestChunkStreamExactMultiple(t *testing.T) {
	chunks := collect(t, ChunkStream(context.Background(), make([]byte, 400), 100))
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if !chunks[3].Final {
		t.Error("last chunk of exact-multiple buffer not marked final")
	}
	if len(chunks[3].Data) != 100 {
		t.Errorf("last chunk len = %d, want 100", len(chunks[3].Data))
	}
}

func TestChunkStreamDefaultChunkSize(t *testing.T) {
	chunks := collect(t, ChunkStream(context.Background(), make([]byte, DefaultChunkSize+1), 0))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0].Data) != DefaultChunkSize {
		t.Errorf("first chunk len = %d, want %d", len(chunks[0].Data), DefaultChunkSize)
	}
}

func TestChunkStreamCancelStopsProduction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// Large buffer so the producer cannot finish inside the channel buffer.
	stream := ChunkStream(ctx, make([]byte, 1<<20), 100)

	if _, ok := <-stream; !ok {
		t.Fatal("stream closed before first chunk")
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}
