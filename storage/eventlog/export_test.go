package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func TestExportParquet(t *testing.T) {
	store := openStore(t)
	store.Emit(tradeEvent("trade.created", "1"))
	store.Emit(tradeEvent("trade.created", "2"))
	store.Emit(tradeEvent("trade.escrow_funded", "1"))

	path := filepath.Join(t.TempDir(), "trade-1.parquet")
	written, err := store.ExportParquet(context.Background(), path, Query{TradeID: 1})
	require.NoError(t, err)
	require.Equal(t, 2, written)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())

	rows := make([]parquetRecord, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "trade.created", rows[0].Type)
	require.Equal(t, "trade.escrow_funded", rows[1].Type)
	require.Equal(t, int64(1), rows[1].TradeID)
	require.Contains(t, rows[1].Attributes, `"state":"escrow_funded"`)
}

func TestExportParquetNilStore(t *testing.T) {
	var store *Store
	_, err := store.ExportParquet(context.Background(), filepath.Join(t.TempDir(), "x.parquet"), Query{})
	require.ErrorIs(t, err, errNotConfigured)
}
