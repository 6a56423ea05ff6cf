package recovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/Bidon15/fontana/internal/da"
	"github.com/Bidon15/fontana/internal/types"
)

// DABlobSource streams blocks out of the DA layer given the ordered blob
// references for heights 1..n (from an indexer or a surviving node's block
// table). Each fetch derives the expected per-height namespace.
type DABlobSource struct {
	client da.Client
	base   types.Namespace
	refs   []string
	next   int
}

func NewDABlobSource(client da.Client, base types.Namespace, refs []string) *DABlobSource {
	return &DABlobSource{client: client, base: base, refs: refs}
}

func (s *DABlobSource) Next(ctx context.Context) (*types.Block, string, error) {
	if s.next >= len(s.refs) {
		return nil, "", io.EOF
	}
	ref := s.refs[s.next]
	height := uint64(s.next + 1)
	s.next++

	daHeight, _, err := da.ParseBlobRef(ref)
	if err != nil {
		return nil, "", err
	}

	ns := types.DeriveBlockNamespace(s.base, height)
	blobs, err := s.client.Get(ctx, daHeight, ns)
	if err != nil {
		return nil, "", fmt.Errorf("fetch blobs for height %d: %w", height, err)
	}

	// The per-height namespace should hold exactly one blob; tolerate
	// extras by taking the first that decodes to the expected height.
	var lastErr error
	for _, raw := range blobs {
		block, err := types.DecodeBlock(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if block.Header.Height != height {
			lastErr = fmt.Errorf("blob holds height %d, want %d", block.Header.Height, height)
			continue
		}
		return block, ref, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no blobs at DA height %d", daHeight)
	}
	return nil, "", fmt.Errorf("no usable blob for height %d: %w", height, lastErr)
}

// StaticBlobSource replays already-decoded blocks; used by tests and by
// recovery from a local export.
type StaticBlobSource struct {
	Blocks []*types.Block
	Refs   []string
	next   int
}

func (s *StaticBlobSource) Next(ctx context.Context) (*types.Block, string, error) {
	if s.next >= len(s.Blocks) {
		return nil, "", io.EOF
	}
	block := s.Blocks[s.next]
	var ref string
	if s.next < len(s.Refs) {
		ref = s.Refs[s.next]
	} else {
		// synthesise a placeholder ref so recovered rows still satisfy
		// da_committed => blob_ref
		ref = fmt.Sprintf("da:%d:%s", block.Header.Height,
			base64.StdEncoding.EncodeToString(types.SHA256Sum([]byte(block.Header.StateRoot))))
	}
	s.next++
	return block, ref, nil
}
