// docsift-inspect parses a local document the way the ingestion worker
// would and prints the resulting chunks, for tuning chunk sizes without
// running the full stack.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/docsift/docsift/internal/chunk"
	"github.com/docsift/docsift/internal/parser"
)

func main() {
	size := flag.Int("size", 1024, "chunk size in runes")
	overlap := flag.Int("overlap", 100, "chunk overlap in runes")
	show := flag.Int("show", 10, "number of chunks to print")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: docsift-inspect [flags] <file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(1)
	}

	contentType := parser.TypeByFilename(path)
	if contentType == "" {
		fmt.Fprintf(os.Stderr, "unsupported file extension %q\n", filepath.Ext(path))
		os.Exit(1)
	}

	text, err := parser.Parse(filepath.Base(path), contentType, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse: %v\n", err)
		os.Exit(1)
	}

	splitter, err := chunk.NewSplitter(*size, *overlap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "splitter: %v\n", err)
		os.Exit(1)
	}
	chunks := splitter.Split(text)

	fmt.Printf("file: %s (%d bytes, %s)\n", path, len(data), contentType)
	fmt.Printf("normalized text: %d runes\n", utf8.RuneCountInString(text))
	fmt.Printf("chunks: %d (size %d, overlap %d)\n", len(chunks), *size, *overlap)

	for i, c := range chunks {
		if i >= *show {
			fmt.Printf("\n... %d more chunks\n", len(chunks)-*show)
			break
		}
		fmt.Printf("\n--- chunk %d (%d runes) ---\n%s\n", i, utf8.RuneCountInString(c), c)
	}
}
