package main

import (
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-fixpoint/internal/client"
	"github.com/23skdu/longbow-fixpoint/internal/convert"
)

type FixpointFlightServer struct {
	flight.BaseFlightServer
	converter *convert.Converter
	alloc     memory.Allocator
	builder   *client.RecordBatchBuilder
	received  atomic.Int64
}

func NewFixpointFlightServer(converter *convert.Converter) *FixpointFlightServer {
	alloc := memory.NewGoAllocator()
	return &FixpointFlightServer{
		converter: converter,
		alloc:     alloc,
		builder:   client.NewRecordBatchBuilder(alloc),
	}
}

// DoExchange converts every incoming record. The descriptor path names the
// format and operation.
func (s *FixpointFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	path := reader.LatestFlightDescriptor().GetPath()
	if len(path) != 2 {
		return fmt.Errorf("descriptor path must be [format, op], got %v", path)
	}
	base, err := parseRequest(path[0], path[1])
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(s.alloc))
	defer writer.Close()

	for reader.Next() {
		in := reader.Record()
		// Empty batches are echoed as empty results.
		res := &convert.Result{Format: base.Format, Op: base.Op}
		if in.NumRows() > 0 {
			values, codes, err := client.InputColumns(in)
			if err != nil {
				return err
			}
			req := base
			req.Values, req.Codes = values, codes

			if res, err = s.converter.Convert(stream.Context(), req); err != nil {
				return err
			}
		}
		rec, err := s.builder.BuildRecordBatch(res)
		if err != nil {
			return err
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
		log.Debug().
			Str("format", base.Format.String()).
			Str("op", string(base.Op)).
			Int("rows", res.Len()).
			Msg("DoExchange converted batch")
	}
	return reader.Err()
}

// DoPut accepts converted batches forwarded by another instance.
func (s *FixpointFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	dataset := reader.LatestFlightDescriptor().GetPath()
	for reader.Next() {
		rec := reader.Record()
		total := s.received.Add(rec.NumRows())
		log.Info().
			Strs("dataset", dataset).
			Int64("rows", rec.NumRows()).
			Int64("total_rows", total).
			Msg("DoPut received batch")
	}
	return reader.Err()
}

// Received returns the number of rows accepted through DoPut.
func (s *FixpointFlightServer) Received() int64 {
	return s.received.Load()
}

// StartFlightServer serves the Flight service on addr in the background.
func StartFlightServer(addr string, converter *convert.Converter) flight.Server {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewFixpointFlightServer(converter))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting fixpoint Flight server")
	go func() {
		if err := server.Serve(); err != nil {
			log.Fatal().Err(err).Msg("Flight server failed")
		}
	}()
	return server
}
