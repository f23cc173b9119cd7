package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	appErr "arenajudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const sourceContentType = "application/zstd"

// SourceStore keeps submission sources zstd-compressed in object storage.
type SourceStore struct {
	storage  ObjectStorage
	bucket   string
	maxBytes int64
}

// NewSourceStore creates a store in bucket. Decoded sources larger than maxBytes are rejected.
func NewSourceStore(storage ObjectStorage, bucket string, maxBytes int64) (*SourceStore, error) {
	if storage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	return &SourceStore{storage: storage, bucket: bucket, maxBytes: maxBytes}, nil
}

// SourceKey is the object key of a submission source.
func SourceKey(submissionID string) string {
	return "submissions/" + submissionID + "/source.code.zst"
}

// Save compresses and uploads source, returning its key and sha256 hex digest.
func (s *SourceStore) Save(ctx context.Context, submissionID, source string) (string, string, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", "", appErr.Wrapf(err, appErr.ServiceUnavailable, "create zstd writer failed")
	}
	compressed := enc.EncodeAll([]byte(source), nil)
	_ = enc.Close()

	sum := sha256.Sum256([]byte(source))
	key := SourceKey(submissionID)
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), sourceContentType); err != nil {
		return "", "", appErr.Wrapf(err, appErr.ServiceUnavailable, "upload source failed")
	}
	return key, hex.EncodeToString(sum[:]), nil
}

// Load downloads and decompresses the source at key and verifies hash when set.
func (s *SourceStore) Load(ctx context.Context, key, hash string) (string, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", appErr.Wrapf(err, appErr.JudgeSystemError, "source object missing")
		}
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "download source failed")
	}
	defer reader.Close()

	dec, err := zstd.NewReader(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "create zstd reader failed")
	}
	defer dec.Close()

	var src io.Reader = dec
	if s.maxBytes > 0 {
		src = io.LimitReader(dec, s.maxBytes+1)
	}
	hasher := sha256.New()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.TeeReader(src, hasher)); err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "decode source failed")
	}
	if s.maxBytes > 0 && int64(buf.Len()) > s.maxBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessage("stored source exceeds the size limit")
	}
	if hash != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, hash) {
			return "", appErr.New(appErr.JudgeSystemError).WithMessage("source hash mismatch")
		}
	}
	return buf.String(), nil
}

// Delete removes the source at key.
func (s *SourceStore) Delete(ctx context.Context, key string) error {
	return s.storage.RemoveObject(ctx, s.bucket, key)
}
