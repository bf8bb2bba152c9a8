// cmd/compiscript/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	cerr "compiscript/internal/errors"
	"compiscript/internal/irgen"
	"compiscript/internal/lexer"
	"compiscript/internal/mips"
	"compiscript/internal/parser"
	"compiscript/internal/semantic"
)

const version = "1.0.0"

// Exit codes: 0 success, 1 compilation error, 2 I/O error.
const (
	exitOK      = 0
	exitCompile = 1
	exitIO      = 2
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(exitOK)
	}

	cmd := args[0]
	switch cmd {
	case "compile", "c":
		os.Exit(compileCommand(args[1:]))
	case "version", "--version", "-v":
		fmt.Printf("compiscript %s\n", version)
		os.Exit(exitOK)
	case "help", "--help", "-h":
		showUsage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command '%s'\n\n", cmd)
		showUsage()
		os.Exit(exitIO)
	}
}

func showUsage() {
	fmt.Println("Compiscript compiler")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  compiscript compile [-o out.s] [-stats] <source.cps>")
	fmt.Println("  compiscript version")
	fmt.Println()
	fmt.Println("compile reads one source file and writes MIPS32 assembly to")
	fmt.Println("stdout, or to the -o target. Errors go to stderr.")
}

func compileCommand(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	outPath := fs.String("o", "", "write assembly to this file instead of stdout")
	stats := fs.Bool("stats", false, "report pipeline counters to stderr")
	if err := fs.Parse(args); err != nil {
		return exitIO
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "compile needs exactly one source file")
		return exitIO
	}
	srcPath := fs.Arg(0)

	data, err := os.ReadFile(srcPath)
	if err != nil {
		fail(errors.Wrapf(err, "reading %s", srcPath))
		return exitIO
	}
	source := string(data)
	file := filepath.Base(srcPath)

	// Scan.
	scanner := lexer.NewScanner(source)
	tokens := scanner.ScanTokens()
	if len(scanner.Errors) > 0 {
		reportAll(scanner.Errors)
		return exitCompile
	}

	// Parse.
	p := parser.NewParserWithSource(tokens, source, file)
	prog := p.Parse()
	if len(p.Errors) > 0 {
		reportAll(p.Errors)
		return exitCompile
	}

	// Semantic analysis: errors are batched per program.
	analyzer := semantic.NewAnalyzerWithSource(source, file)
	info, err := analyzer.Analyze(prog)
	if err != nil {
		reportAll(analyzer.Errors())
		return exitCompile
	}

	// IR generation and the backend fail fast.
	irProg, err := irgen.Generate(prog, info)
	if err != nil {
		report(err)
		return exitCompile
	}

	asm, err := mips.NewEmitter(irProg).Emit()
	if err != nil {
		report(err)
		return exitCompile
	}

	if *outPath == "" {
		fmt.Print(asm)
	} else if err := writeAtomic(*outPath, asm); err != nil {
		fail(err)
		return exitIO
	}

	if *stats {
		fmt.Fprintf(os.Stderr, "tokens:       %s\n", humanize.Comma(int64(len(tokens))))
		fmt.Fprintf(os.Stderr, "quadruples:   %s\n", humanize.Comma(int64(len(irProg.Quads))))
		fmt.Fprintf(os.Stderr, "output lines: %s\n", humanize.Comma(int64(strings.Count(asm, "\n"))))
		fmt.Fprintf(os.Stderr, "output size:  %s\n", humanize.Bytes(uint64(len(asm))))
	}
	return exitOK
}

// writeAtomic lands the output through a uniquely named temp file in the
// target directory, so an interrupted write never leaves a half file.
func writeAtomic(path, content string) error {
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func reportAll(errs []*cerr.CompileError) {
	for _, e := range errs {
		report(e)
	}
}

// report renders one diagnostic, colouring the error-kind prefix when
// stderr is a terminal.
func report(err error) {
	msg := err.Error()
	if isatty.IsTerminal(os.Stderr.Fd()) {
		if i := strings.Index(msg, ":"); i > 0 {
			msg = "\033[1;31m" + msg[:i] + "\033[0m" + msg[i:]
		}
	}
	fmt.Fprint(os.Stderr, msg)
	if !strings.HasSuffix(msg, "\n") {
		fmt.Fprintln(os.Stderr)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
