// Command evaluate runs the rules in a YAML file against a JSON subject and
// prints the final evaluation as JSON.
//
//	evaluate -rules cards.yaml -subject card.json -history
//	echo '{"number":"4111111111111111"}' | evaluate -rules cards.yaml -subject -
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

	"github.com/liamcoop/simplerules/internal/config"
	"github.com/liamcoop/simplerules/internal/logger"
	"github.com/liamcoop/simplerules/rules"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		config.Exitf("evaluate: %v", err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	rulesPath := fs.String("rules", "", "YAML rule file (required)")
	subjectPath := fs.String("subject", "-", "JSON subject file, - for stdin")
	only := fs.String("only", "", "Comma-separated rule IDs to run in the given order, active or not")
	history := fs.Bool("history", false, "Attach earlier evaluations to the final one")
	logLevel := fs.String("log-level", "WARN", "Log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *rulesPath == "" {
		return errors.New("-rules is required")
	}

	if err := logger.Setup(ctx, logger.Options{Level: *logLevel, SampleRate: 1, Output: os.Stderr}); err != nil {
		return err
	}

	engine, err := loadEngine(*rulesPath)
	if err != nil {
		return err
	}

	subject, err := readSubject(*subjectPath, stdin)
	if err != nil {
		return err
	}

	var ev *rules.Evaluation
	if *only != "" {
		ev, err = engine.EvaluateRules(ctx, subject, strings.Split(*only, ","), *history)
	} else {
		ev, err = engine.Evaluate(ctx, subject, *history)
	}
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}

func loadEngine(path string) (*rules.Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defs, err := rules.LoadDefinitionsYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	store := rules.NewInMemoryRuleStore()
	for _, def := range defs {
		if err := store.Add(def); err != nil {
			return nil, err
		}
	}

	return rules.NewEngine(store, rules.WithEngineLogger(logger.New("evaluate")))
}

func readSubject(path string, stdin io.Reader) (any, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var subject any
	if err := json.NewDecoder(r).Decode(&subject); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return subject, nil
}
