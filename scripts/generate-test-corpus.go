//go:build ignore

// Generates a synthetic datasource file for trying indexes at scale.
// Usage: go run scripts/generate-test-corpus.go -items 5000 -output testdata/bench/content.json
//
// Point a datasource's files at the output; the properties match the
// entity:node datasource of configs/project-config.example.yaml.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	numItems   = flag.Int("items", 1000, "Number of items to generate")
	outputFile = flag.String("output", "testdata/bench/content.json", "Output file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
	languages  = flag.String("languages", "en", "Comma-separated language codes; items after the first get translations")
)

var (
	bundles  = []string{"article", "article", "article", "page", "event"}
	tags     = []string{"search", "facets", "indexing", "go", "databases", "performance", "release", "tutorial"}
	subjects = []string{"Search", "Indexing", "Facets", "Autocomplete", "Tracking", "Processors", "Servers", "Fields"}
	verbs    = []string{"explained", "in practice", "at scale", "for beginners", "revisited", "under load"}
	words    = strings.Fields(`index server field item query condition facet result keys boost
		processor tracker batch datasource language excerpt highlight tokenizer stopword
		schema backend database table column score relevance sort filter range phrase`)
)

type document struct {
	ID           string                    `json:"id"`
	Bundle       string                    `json:"bundle"`
	Langcode     string                    `json:"langcode"`
	Fields       map[string]any            `json:"fields"`
	Translations map[string]map[string]any `json:"translations,omitempty"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))
	langs := strings.Split(*languages, ",")

	docs := make([]document, 0, *numItems)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= *numItems; i++ {
		d := document{
			ID:       strconv.Itoa(i),
			Bundle:   bundles[rng.Intn(len(bundles))],
			Langcode: langs[0],
			Fields:   fields(rng, base),
		}
		for _, lang := range langs[1:] {
			if rng.Intn(3) == 0 {
				continue
			}
			if d.Translations == nil {
				d.Translations = make(map[string]map[string]any)
			}
			d.Translations[lang] = fields(rng, base)
		}
		docs = append(docs, d)
	}

	if err := os.MkdirAll(filepath.Dir(*outputFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputFile, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d items in %s\n", len(docs), *outputFile)
}

func fields(rng *rand.Rand, base time.Time) map[string]any {
	title := subjects[rng.Intn(len(subjects))] + " " + verbs[rng.Intn(len(verbs))]
	paragraphs := make([]string, 1+rng.Intn(4))
	for i := range paragraphs {
		paragraphs[i] = "<p>" + sentence(rng, 20+rng.Intn(60)) + "</p>"
	}
	itemTags := make([]string, 0, 3)
	for _, j := range rng.Perm(len(tags))[:1+rng.Intn(3)] {
		itemTags = append(itemTags, tags[j])
	}
	return map[string]any{
		"title":   title,
		"body":    strings.Join(paragraphs, "\n"),
		"created": base.Add(time.Duration(rng.Intn(365*24)) * time.Hour).Unix(),
		"status":  rng.Intn(10) > 0,
		"tags":    itemTags,
	}
}

func sentence(rng *rand.Rand, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = words[rng.Intn(len(words))]
	}
	out[0] = strings.ToUpper(out[0][:1]) + out[0][1:]
	return strings.Join(out, " ") + "."
}
