//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-fixpoint/internal/client"
	"github.com/23skdu/longbow-fixpoint/internal/convert"
	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to fixpoint Flight server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	values := []float64{-6, -1, -0.3, 0, 0.3, 1, 2.5, 6}

	// The server may still be starting; retry the first exchange.
	var out []float64
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		rec, err := c.Exchange(ctx, fixedpoint.Format1_15, convert.OpTanh, values)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Exchange failed, retrying...")
			time.Sleep(1 * time.Second)
			continue
		}
		out = append(out, rec.Column(2).(*array.Float64).Float64Values()...)
		rec.Release()
		log.Info().Dur("elapsed", time.Since(start)).Msg("Received tanh batch")
		break
	}
	if out == nil {
		log.Fatal().Msg("Exchange failed after retries")
	}

	for i, v := range values {
		if want := fixedpoint.TanhApprox(v); out[i] != want {
			log.Fatal().Float64("input", v).Float64("got", out[i]).Float64("want", want).Msg("Value mismatch")
		}
		log.Info().Float64("input", v).Float64("tanh", out[i]).Msg("Value valid")
	}

	fmt.Println("VERIFICATION PASSED")
}
