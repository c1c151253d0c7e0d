package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// ObjectWriter is the upload surface the archiver needs.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// snapshotHeader is the first line of an archived snapshot.
type snapshotHeader struct {
	CycleID    string                    `json:"cycle_id"`
	Generation uint64                    `json:"generation"`
	Owner      common.Address            `json:"owner"`
	ChainID    uint64                    `json:"chain_id"`
	Strategy   domain.MembershipStrategy `json:"strategy"`
	FetchedAt  time.Time                 `json:"fetched_at"`
	Records    int                       `json:"records"`
}

// Archiver implements domain.Archiver. Each snapshot becomes one JSONL
// object: a header line followed by one line per record.
type Archiver struct {
	writer ObjectWriter
	prefix string
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer ObjectWriter, prefix string) *Archiver {
	return &Archiver{writer: writer, prefix: strings.Trim(prefix, "/")}
}

// ArchiveSnapshot uploads snap and returns its object key.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	buf, err := encodeSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot %s: %w", snap.CycleID, err)
	}

	key := a.objectKey(snap)
	const contentType = "application/x-ndjson"
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), contentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), contentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot %s upload: %w", snap.CycleID, err)
	}
	return key, nil
}

// objectKey partitions archives by chain, owner and day:
//
//	{prefix}/8453/0xabc.../2026/03/01/20260301T120000Z-{cycle}.jsonl
func (a *Archiver) objectKey(snap domain.Snapshot) string {
	at := snap.FetchedAt.UTC()
	name := at.Format("20060102T150405Z") + "-" + snap.CycleID + ".jsonl"
	return path.Join(
		a.prefix,
		strconv.FormatUint(snap.ChainID, 10),
		strings.ToLower(snap.Owner.Hex()),
		at.Format("2006/01/02"),
		name,
	)
}

func encodeSnapshot(snap domain.Snapshot) ([]byte, error) {
	lines := make([]any, 0, len(snap.Records)+1)
	lines = append(lines, snapshotHeader{
		CycleID:    snap.CycleID,
		Generation: snap.Generation,
		Owner:      snap.Owner,
		ChainID:    snap.ChainID,
		Strategy:   snap.Strategy,
		FetchedAt:  snap.FetchedAt,
		Records:    len(snap.Records),
	})
	for _, r := range snap.Records {
		lines = append(lines, r)
	}
	return marshalJSONL(lines)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
