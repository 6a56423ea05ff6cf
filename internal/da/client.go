// Package da talks to the data-availability layer. The wire protocol stays
// behind the Client interface; the concrete client speaks the Celestia
// node's JSON-RPC.
package da

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Bidon15/fontana/internal/types"
)

// Client submits and fetches namespaced blobs.
type Client interface {
	// Submit posts one blob and returns the DA inclusion height and the
	// blob commitment.
	Submit(ctx context.Context, ns types.Namespace, data []byte) (uint64, []byte, error)
	// Get returns all blobs stored under ns at the given DA height.
	Get(ctx context.Context, daHeight uint64, ns types.Namespace) ([][]byte, error)
}

// DAError carries the transient/permanent split the poster acts on.
type DAError struct {
	Permanent bool
	Err       error
}

func (e *DAError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("da (%s): %v", kind, e.Err)
}

func (e *DAError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a permanent DA failure.
func IsPermanent(err error) bool {
	var daErr *DAError
	if errors.As(err, &daErr) {
		return daErr.Permanent
	}
	return false
}

// wireNamespaceSize is the DA node's namespace width: a version byte plus a
// 28-byte id. The 8-byte rollup namespace occupies the id's tail.
const wireNamespaceSize = 29

func wireNamespace(ns types.Namespace) string {
	raw := make([]byte, wireNamespaceSize)
	copy(raw[wireNamespaceSize-types.NamespaceSize:], ns[:])
	return base64.StdEncoding.EncodeToString(raw)
}

type wireBlob struct {
	Namespace    string `json:"namespace"`
	Data         string `json:"data"`
	ShareVersion uint32 `json:"share_version"`
	Commitment   string `json:"commitment,omitempty"`
}

// CelestiaClient implements Client over the node's JSON-RPC endpoint,
// authenticating with a bearer token.
type CelestiaClient struct {
	rpc *rpc.Client
}

func NewCelestiaClient(ctx context.Context, nodeURL, authToken string) (*CelestiaClient, error) {
	opts := []rpc.ClientOption{}
	if authToken != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+authToken))
	}
	client, err := rpc.DialOptions(ctx, nodeURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial DA node %s: %w", nodeURL, err)
	}
	return &CelestiaClient{rpc: client}, nil
}

func (c *CelestiaClient) Submit(ctx context.Context, ns types.Namespace, data []byte) (uint64, []byte, error) {
	blob := wireBlob{
		Namespace:    wireNamespace(ns),
		Data:         base64.StdEncoding.EncodeToString(data),
		ShareVersion: 0,
	}

	var height uint64
	if err := c.rpc.CallContext(ctx, &height, "blob.Submit", []wireBlob{blob}, map[string]any{}); err != nil {
		return 0, nil, classify(err)
	}

	// The recorded commitment is a local SHA-256 of the blob bytes, not the
	// node's share commitment; it identifies the blob in blob_ref and is not
	// used to fetch it.
	commitment := types.SHA256Sum(data)
	return height, commitment, nil
}

func (c *CelestiaClient) Get(ctx context.Context, daHeight uint64, ns types.Namespace) ([][]byte, error) {
	var blobs []wireBlob
	if err := c.rpc.CallContext(ctx, &blobs, "blob.GetAll", daHeight, []string{wireNamespace(ns)}); err != nil {
		return nil, classify(err)
	}

	out := make([][]byte, 0, len(blobs))
	for _, b := range blobs {
		raw, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return nil, &DAError{Permanent: true, Err: fmt.Errorf("blob data is not base64: %w", err)}
		}
		out = append(out, raw)
	}
	return out, nil
}

func (c *CelestiaClient) Close() {
	c.rpc.Close()
}

// classify splits node errors into retryable and terminal ones. Anything
// the node rejects about the blob itself will never succeed on retry.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid namespace") ||
		strings.Contains(msg, "blob size") ||
		strings.Contains(msg, "exceeds") ||
		strings.Contains(msg, "unauthorized") {
		return &DAError{Permanent: true, Err: err}
	}
	return &DAError{Permanent: false, Err: err}
}
