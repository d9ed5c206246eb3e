package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRecord struct {
	Seq        int64  `parquet:"name=seq, type=INT64"`
	ID         string `parquet:"name=id, type=UTF8"`
	Type       string `parquet:"name=type, type=UTF8"`
	TradeID    int64  `parquet:"name=trade_id, type=INT64"`
	Attributes string `parquet:"name=attributes, type=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=UTF8"`
}

// ExportParquet writes every record matching q to a snappy-compressed
// parquet file at path and returns how many rows were written. q.Limit is
// ignored; the export pages through the whole journal.
func (s *Store) ExportParquet(ctx context.Context, path string, q Query) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, errNotConfigured
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("eventlog: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRecord), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("eventlog: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := q
	page.Limit = MaxLimit
	for {
		records, err := s.List(ctx, page)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, err
		}
		for _, record := range records {
			attrs, err := json.Marshal(record.Attributes)
			if err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("eventlog: encode attributes: %w", err)
			}
			row := &parquetRecord{
				Seq:        record.Seq,
				ID:         record.ID,
				Type:       record.Type,
				TradeID:    int64(record.TradeID),
				Attributes: string(attrs),
				CreatedAt:  record.CreatedAt.Format(time.RFC3339Nano),
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("eventlog: parquet write: %w", err)
			}
			written++
			page.AfterSeq = record.Seq
		}
		if len(records) < MaxLimit {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("eventlog: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("eventlog: close parquet file: %w", err)
	}
	return written, nil
}
