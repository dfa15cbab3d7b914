package upstream

import (
	"context"
	"io"

	"github.com/gotd/td/tg"

	"tgarchive/internal/rangeparse"
	"tgarchive/internal/types"
)

// chunkIterator steps tg.UploadGetFileRequest by CHUNK-sized offsets,
// the same offset/limit stepping the donor's thumbnail downloader uses,
// generalized to an indefinite sequence instead of a single file write.
type chunkIterator struct {
	api    *tg.Client
	loc    tg.InputFileLocationClass
	offset int64
	done   bool
}

func newChunkIterator(api *tg.Client, locator types.FileLocator, startChunk int64) *chunkIterator {
	return &chunkIterator{api: api, loc: locator.Location, offset: startChunk * rangeparse.CHUNK}
}

// Next fetches the next ≤1 MiB blob. It returns io.EOF once upstream
// reports a short or empty read, per the donor's "stop when len(bytes)
// < limit" convention.
func (it *chunkIterator) Next(ctx context.Context) ([]byte, error) {
	if it.done {
		return nil, io.EOF
	}

	res, err := it.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: it.loc,
		Offset:   it.offset,
		Limit:    int(rangeparse.CHUNK),
	})
	if err != nil {
		return nil, classifyRPC(err)
	}

	f, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}

	b := f.GetBytes()
	if len(b) == 0 {
		it.done = true
		return nil, io.EOF
	}
	it.offset += int64(len(b))
	if int64(len(b)) < rangeparse.CHUNK {
		it.done = true
	}
	return b, nil
}

func (it *chunkIterator) Close() {
	it.done = true
}
