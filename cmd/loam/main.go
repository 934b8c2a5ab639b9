package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam/spec"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "check":
		checkCmd(os.Args[2:])
	case "export":
		exportCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `loam CLI

Usage:
  loam check [-v] namespace.yaml [namespace.yaml ...]
  loam export [-v] -o dir [-ns name] namespace.yaml

check loads the given namespace documents and lists the data types each
namespace registers. export reloads a namespace document and writes it
back out, one file per spec source plus the namespace document itself.`)
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func checkCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	verbose := fs.Bool("v", false, "enable debug logs")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	log := newLogger(*verbose)
	cat := spec.NewNamespaceCatalog(log)
	for _, path := range fs.Args() {
		loaded, err := cat.LoadNamespaces(path, nil)
		if err != nil {
			fatalf("check %s: %v", path, err)
		}
		names := make([]string, 0, len(loaded))
		for name := range loaded {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ns, err := cat.GetNamespace(name)
			if err != nil {
				fatalf("check %s: %v", path, err)
			}
			fmt.Printf("%s %s (%d types)\n", ns.Name(), ns.Version(), len(loaded[name]))
			types := append([]string(nil), loaded[name]...)
			sort.Strings(types)
			for _, dt := range types {
				fmt.Printf("  %s\n", dt)
			}
		}
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "output directory")
	nsName := fs.String("ns", "", "namespace to export (default: every namespace in the document)")
	verbose := fs.Bool("v", false, "enable debug logs")
	_ = fs.Parse(args)
	if *out == "" || fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	path := fs.Arg(0)
	log := newLogger(*verbose)
	cat := spec.NewNamespaceCatalog(log)
	loaded, err := cat.LoadNamespaces(path, nil)
	if err != nil {
		fatalf("export %s: %v", path, err)
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		fatalf("export: %v", err)
	}
	names := make([]string, 0, len(loaded))
	for name := range loaded {
		if *nsName != "" && name != *nsName {
			continue
		}
		names = append(names, name)
	}
	if *nsName != "" && len(names) == 0 {
		fatalf("export: namespace %q is not declared in %s", *nsName, path)
	}
	sort.Strings(names)
	w := &spec.NamespaceWriter{Dir: *out}
	for _, name := range names {
		ns, err := cat.GetNamespace(name)
		if err != nil {
			fatalf("export: %v", err)
		}
		nsFile := filepath.Base(path)
		if err := w.WriteNamespace(ns, nsFile); err != nil {
			fatalf("export %s: %v", name, err)
		}
		log.Info().Str("namespace", name).Str("dir", *out).Msg("exported namespace")
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
