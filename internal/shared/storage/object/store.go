package object

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by a Store when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store is the backend contract for saving and retrieving binary objects by key.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Info describes an uploaded object.
type Info struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// Blobs exposes byte-oriented upload/download helpers on top of a Store.
type Blobs struct {
	store Store
}

func NewBlobs(store Store) *Blobs {
	return &Blobs{store: store}
}

// Upload stores data under key.
func (b *Blobs) Upload(ctx context.Context, data []byte, key, contentType string) (Info, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Info{}, fmt.Errorf("upload: empty key")
	}
	if err := b.store.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return Info{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return Info{Key: key, ContentType: contentType, SizeBytes: int64(len(data))}, nil
}

// Download reads the full object stored under key.
func (b *Blobs) Download(ctx context.Context, key string) ([]byte, error) {
	rc, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// DownloadBase64 is Download followed by standard base64 encoding.
func (b *Blobs) DownloadBase64(ctx context.Context, key string) (string, error) {
	data, err := b.Download(ctx, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
