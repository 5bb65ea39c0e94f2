package upload

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

func BenchmarkManager_AppendChunk(b *testing.B) {
	for _, chunkSize := range []int{4 << 10, 256 << 10, 4 << 20} {
		b.Run(fmt.Sprintf("chunk=%d", chunkSize), func(b *testing.B) {
			env := setupTestManager(b, int64(chunkSize)*int64(b.N+1))
			ctx := context.Background()
			data := bytes.Repeat([]byte{'x'}, chunkSize)

			session, err := env.manager.Create(ctx, CreateRequest{DeferLength: true})
			if err != nil {
				b.Fatal(err)
			}

			b.SetBytes(int64(chunkSize))
			b.ResetTimer()

			offset := int64(0)
			for i := 0; i < b.N; i++ {
				if _, err := env.manager.AppendChunk(ctx, session.ID, data, offset); err != nil {
					b.Fatal(err)
				}
				offset += int64(chunkSize)
			}
		})
	}
}

func BenchmarkManager_Upload(b *testing.B) {
	const bodySize = 8 << 20

	env := setupTestManager(b, int64(bodySize)*int64(b.N+1))
	ctx := context.Background()
	body := bytes.Repeat([]byte{'x'}, bodySize)

	session, err := env.manager.Create(ctx, CreateRequest{DeferLength: true})
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(bodySize)
	b.ResetTimer()

	offset := int64(0)
	for i := 0; i < b.N; i++ {
		_, err := env.manager.Upload(ctx, UploadRequest{
			ID:            session.ID,
			ClaimedOffset: offset,
			ContentLength: bodySize,
			Source:        NewReaderSource(bytes.NewReader(body), DefaultFragmentSize),
		})
		if err != nil {
			b.Fatal(err)
		}
		offset += bodySize
	}
}
