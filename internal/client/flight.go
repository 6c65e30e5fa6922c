package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-fixpoint/internal/convert"
	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
)

// ErrCircuitOpen is returned while the downstream is considered unhealthy.
var ErrCircuitOpen = errors.New("circuit breaker open")

// FlightClient talks to another fixpoint instance (or any Flight server that
// accepts the same descriptors) over Apache Arrow Flight.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
	alloc   memory.Allocator
}

// Option configures a FlightClient.
type Option func(*FlightClient)

// WithCircuitBreaker replaces the default breaker (5 failures, 10s).
func WithCircuitBreaker(maxFailures int, timeout time.Duration) Option {
	return func(c *FlightClient) {
		c.breaker = NewCircuitBreaker(maxFailures, timeout)
	}
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string, opts ...Option) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	c := &FlightClient{
		client:  flight.NewClientFromConn(conn, nil),
		conn:    conn,
		breaker: NewCircuitBreaker(5, 10*time.Second),
		alloc:   memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Breaker exposes the breaker guarding DoPut.
func (c *FlightClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// DoPut sends a RecordBatch to the given dataset.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := c.doPut(ctx, datasetName, record); err != nil {
		c.breaker.Failure()
		return err
	}
	c.breaker.Success()
	return nil
}

func (c *FlightClient) doPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})

	if err := writer.Write(record); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	// Drain so server-side errors surface here.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Exchange converts values on the remote server. The descriptor path is
// [format, op]; the returned batch has ResultSchema and must be released by
// the caller.
func (c *FlightClient) Exchange(ctx context.Context, format fixedpoint.Format, op convert.Op, values []float64) (arrow.RecordBatch, error) {
	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, err
	}

	input := NewRecordBatchBuilder(c.alloc).BuildInputBatch(values)
	defer input.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(input.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{format.String(), string(op)},
	})
	if err := writer.Write(input); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("exchange %s/%s: no result", format, op)
	}
	rec := reader.Record()
	rec.Retain()
	return rec, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
