package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// Dumps raw store keys for debugging. Run against a copy, not a live DB.
func main() {
	var path, prefix string
	var values bool
	flag.StringVar(&path, "path", "", "pebble store path")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter (e.g. conv: or user:)")
	flag.BoolVar(&values, "values", false, "print values as well")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = append([]byte(prefix), 0xff)
	}
	it, err := db.NewIter(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterator failed: %v\n", err)
		os.Exit(1)
	}
	defer it.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		if values {
			fmt.Printf("%s\t%s\n", it.Key(), it.Value())
		} else {
			fmt.Printf("%s\n", it.Key())
		}
		n++
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", n)
}
