package main

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-fixpoint/internal/client"
	"github.com/23skdu/longbow-fixpoint/internal/convert"
	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
)

func startTestFlightServer(t *testing.T) (*FixpointFlightServer, string) {
	t.Helper()
	svc := NewFixpointFlightServer(convert.New(0))
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return svc, server.Addr().String()
}

func TestFlightServer_DoExchange(t *testing.T) {
	_, addr := startTestFlightServer(t)

	fc, err := client.NewFlightClient(addr)
	require.NoError(t, err)
	defer fc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		format fixedpoint.Format
		op     convert.Op
		in     []float64
		want   []float64
	}{
		{fixedpoint.Format4_9, convert.OpQuantize, []float64{3.14159, -9}, []float64{3.140625, -8}},
		{fixedpoint.Format4_9, convert.OpMultipart, []float64{20}, []float64{20}},
		{fixedpoint.Format1_15, convert.OpTanh, []float64{0, 6}, []float64{0, 0.999969482421875}},
		{fixedpoint.Format17_15, convert.OpEncode, []float64{1.5}, []float64{1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.format.String()+"/"+string(tt.op), func(t *testing.T) {
			rec, err := fc.Exchange(ctx, tt.format, tt.op, tt.in)
			require.NoError(t, err)
			defer rec.Release()

			assert.Equal(t, int64(len(tt.in)), rec.NumRows())
			assert.Equal(t, tt.want, rec.Column(2).(*array.Float64).Float64Values())
		})
	}
}

func TestFlightServer_DoExchange_EmptyBatch(t *testing.T) {
	_, addr := startTestFlightServer(t)

	fc, err := client.NewFlightClient(addr)
	require.NoError(t, err)
	defer fc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := fc.Exchange(ctx, fixedpoint.Format4_9, convert.OpEncode, []float64{})
	require.NoError(t, err)
	defer rec.Release()

	assert.Zero(t, rec.NumRows())
	assert.True(t, rec.Schema().Equal(client.ResultSchema))
}

func TestFlightServer_DoExchange_BadDescriptor(t *testing.T) {
	_, addr := startTestFlightServer(t)

	fc, err := client.NewFlightClient(addr)
	require.NoError(t, err)
	defer fc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = fc.Exchange(ctx, fixedpoint.Format1_15, convert.OpMultipart, []float64{1})
	assert.Error(t, err)
}

func TestFlightServer_DoPut(t *testing.T) {
	svc, addr := startTestFlightServer(t)

	fc, err := client.NewFlightClient(addr)
	require.NoError(t, err)
	defer fc.Close()

	res, err := convert.New(0).Convert(context.Background(), convert.Request{
		Format: fixedpoint.Format8_24,
		Op:     convert.OpEncode,
		Values: []float64{1, 2, 3},
	})
	require.NoError(t, err)
	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(res)
	require.NoError(t, err)
	defer rec.Release()

	require.NoError(t, fc.DoPut(context.Background(), "results", rec))
	assert.Equal(t, int64(3), svc.Received())
}
