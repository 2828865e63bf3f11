// Package report exports the mapping table for offline inspection.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/pkg/batch/adapter/storage"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "report"

// MappingRecord is the Parquet row written for each mapping entry.
type MappingRecord struct {
	ID            int64  `parquet:"name=id, type=INT64"`
	SourceScopeID int32  `parquet:"name=source_scope_id, type=INT32"`
	ObjectType    string `parquet:"name=object_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SourceID      int64  `parquet:"name=source_id, type=INT64"`
	DestID        int64  `parquet:"name=dest_id, type=INT64"`
	CreatedAt     int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UpdatedAt     int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ExportMappings writes every mapping entry to key in store as a single
// Parquet file and returns the number of rows written. compression is
// SNAPPY, GZIP or NONE; empty means SNAPPY.
func ExportMappings(ctx context.Context, store mapping.Store, out storage.ObjectStore, key, compression string) (int, error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return 0, exception.NewBatchError(moduleName, fmt.Sprintf("invalid compression type '%s'", compression), err, false, false)
	}
	total, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := store.ListForDeletion(ctx, int(total))
	if err != nil {
		return 0, err
	}

	buf := new(bytes.Buffer)
	rowGroup := int64(len(entries))
	if rowGroup < 1 {
		rowGroup = 1
	}
	pw, err := writer.NewParquetWriterFromWriter(buf, new(MappingRecord), rowGroup)
	if err != nil {
		return 0, exception.NewBatchError(moduleName, "failed to create Parquet writer", err, false, false)
	}
	pw.CompressionType = codec

	var errs *multierror.Error
	for _, e := range entries {
		rec := MappingRecord{
			ID:            int64(e.ID),
			SourceScopeID: int32(e.SourceScopeID),
			ObjectType:    string(e.ObjectType),
			SourceID:      int64(e.SourceID),
			DestID:        int64(e.DestID),
			CreatedAt:     e.CreatedAt.UnixMilli(),
			UpdatedAt:     e.UpdatedAt.UnixMilli(),
		}
		if err := pw.Write(rec); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("mapping %d: %w", e.ID, err))
			break
		}
	}

	// WriteStop panics on some malformed schemas.
	func() {
		defer func() {
			if r := recover(); r != nil {
				errs = multierror.Append(errs, fmt.Errorf("parquet writer panicked during WriteStop: %v", r))
			}
		}()
		if err := pw.WriteStop(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}()
	if err := errs.ErrorOrNil(); err != nil {
		return 0, exception.NewBatchError(moduleName, "failed to encode mapping export", err, false, false)
	}

	n, err := out.Put(ctx, key, buf)
	if err != nil {
		return 0, exception.NewBatchError(moduleName, fmt.Sprintf("failed to store mapping export '%s'", key), err, false, true)
	}
	logger.Infof("Exported %d mappings to '%s' (%d bytes).", len(entries), key, n)
	return len(entries), nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}
