package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redwing-381/mirmer.ai/internal/council"
)

func runAsk(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to council.yml")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	verbose := fs.Bool("v", false, "print stage progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("ask: a question is required")
	}

	a, err := newApp(ctx, *configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	var emit council.EmitFunc
	if *verbose {
		emit = func(ev council.Event) {
			fmt.Fprintln(os.Stderr, council.FormatEvent(ev))
		}
	}

	res, err := a.orch.Run(ctx, query, emit)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(stdout, res)
	return nil
}

func printResult(w io.Writer, res *council.Result) {
	fmt.Fprintln(w, "Stage 1: individual responses")
	for _, r := range res.Stage1 {
		fmt.Fprintf(w, "\n[%s]\n%s\n", r.Model, r.Response)
	}

	fmt.Fprintln(w, "\nStage 2: aggregate rankings")
	for i, agg := range res.Stage2.AggregateRankings {
		if !agg.Ranked() {
			fmt.Fprintf(w, "  %d. %s (unranked)\n", i+1, agg.Model.Short())
			continue
		}
		fmt.Fprintf(w, "  %d. %s (avg %.2f, %d votes)\n", i+1, agg.Model.Short(), agg.AverageRank, agg.RankingsCount)
	}

	fmt.Fprintf(w, "\nStage 3: final answer from %s\n\n%s\n", res.Stage3.Model, res.Stage3.Response)
}
