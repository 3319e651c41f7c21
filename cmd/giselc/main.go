// Command giselc checks gisel target profiles.
//
// Usage:
//
//	giselc [options] <profile.toml>
//
// Examples:
//
//	giselc aarch64.toml            # Load and validate a profile
//	giselc -print aarch64.toml     # Also print the resolved knobs
//	giselc -default                # Print the built-in default profile
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/gisel/mir"
	"github.com/gogpu/gisel/target"
)

var (
	printResolved = flag.Bool("print", false, "print the resolved tuning knobs")
	printDefault  = flag.Bool("default", false, "print the built-in default profile as TOML")
	version       = flag.Bool("version", false, "print version")
)

const giselVersion = "0.1.0-dev"

func main() {
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("giselc version %s\n", giselVersion)
		return
	}

	if *printDefault {
		out, err := toml.Marshal(target.DefaultProfile())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding default profile: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: no profile file specified")
		usage()
		os.Exit(1)
	}

	path := args[0]
	p, err := target.LoadProfile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading profile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: ok\n", path)
	if *printResolved {
		describe(p)
	}
}

// describe prints the knobs the combiner will actually consult,
// including the derived answers a raw TOML dump would hide.
func describe(p *target.Profile) {
	fmt.Printf("  memset limit:        %d stores (%d at -Os)\n",
		p.MaxStoresPerMemset(false), p.MaxStoresPerMemset(true))
	fmt.Printf("  memcpy limit:        %d stores (%d at -Os)\n",
		p.MaxStoresPerMemcpy(false), p.MaxStoresPerMemcpy(true))
	fmt.Printf("  memmove limit:       %d stores (%d at -Os)\n",
		p.MaxStoresPerMemmove(false), p.MaxStoresPerMemmove(true))
	fmt.Printf("  stack:               align %d, realignable %v\n",
		p.NaturalStackAlign(), p.StackRealignable())

	for _, bits := range []uint32{8, 16, 32, 64} {
		t := mir.Scalar(uint16(bits))
		allowed, fast := p.AllowsMisalignedAccess(t, 0, 1)
		fmt.Printf("  misaligned s%-2d:      allowed %v, fast %v\n", bits, allowed, fast)
	}

	ptr := mir.Pointer(0, 64)
	for _, pre := range []bool{true, false} {
		kind := "post"
		if pre {
			kind = "pre"
		}
		ok := p.IsIndexingLegal(mir.OpLoad, ptr, mir.S64, pre)
		fmt.Printf("  %s-indexed s64:     %v\n", kind, ok)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: giselc [options] <profile.toml>\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  giselc aarch64.toml          Load and validate a profile\n")
	fmt.Fprintf(os.Stderr, "  giselc -print aarch64.toml   Also print the resolved knobs\n")
	fmt.Fprintf(os.Stderr, "  giselc -default              Print the default profile\n")
}
