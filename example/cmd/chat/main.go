// Command chat streams a single completion through a registry-built provider
// and prints the deltas as they arrive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"goa.design/clue/log"

	infer "goa.design/infer"
	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/registry"
)

func main() {
	var (
		driverF = flag.String("driver", "anthropic", "Driver name (see -list)")
		modelF  = flag.String("model", "", "Model identifier")
		keyF    = flag.String("api-key", "", "API key (defaults to $INFER_API_KEY)")
		listF   = flag.Bool("list", false, "List available drivers and exit")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	reg := infer.NewRegistry()
	if *listF {
		for _, name := range reg.List() {
			fmt.Println(name)
		}
		return
	}

	prompt := flag.Arg(0)
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: chat [-driver name] [-model id] \"prompt\"")
		os.Exit(1)
	}
	key := *keyF
	if key == "" {
		key = os.Getenv("INFER_API_KEY")
	}

	provider, err := reg.Build(*driverF, registry.DriverConfig{
		APIKey:       key,
		DefaultModel: *modelF,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	req, err := model.NewRequest(*modelF).WithUserText(prompt).Build()
	if err != nil {
		log.Fatal(ctx, err)
	}

	s, err := provider.Stream(ctx, req, nil)
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer s.Close()

	for {
		ev, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			log.Fatal(ctx, err)
		}
		switch e := ev.(type) {
		case model.MessageDelta:
			fmt.Print(e.Content)
		case model.MessageEnd:
			fmt.Println()
			if e.Usage != nil {
				log.Print(ctx, log.KV{K: "input_tokens", V: e.Usage.InputTokens},
					log.KV{K: "output_tokens", V: e.Usage.OutputTokens})
			}
		}
	}
}
