// Command vcf2wt builds a wormtable from a VCF file, driven through
// internal/vcfingest.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeromekelleher/wormtable/internal/vcfingest"
)

type flags struct {
	force      bool
	quiet      bool
	schemaOnly bool
}

func main() {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "vcf2wt <input.vcf|-> <homedir>",
		Short: "Build a wormtable from a VCF file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], args[1], f)
		},
	}
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "Overwrite an existing home directory")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().BoolVarP(&f.schemaOnly, "schema-only", "g", false, "Declare the schema without appending rows")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(input, dir string, f *flags) error {
	if f.force {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("vcf2wt: clearing %s: %w", dir, err)
		}
	}

	var r io.Reader
	name := input
	if input == "-" {
		r = os.Stdin
		name = ""
	} else {
		file, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("vcf2wt: %w", err)
		}
		defer file.Close()
		r = file
	}
	gz, err := vcfingest.MaybeGunzip(r, name)
	if err != nil {
		return err
	}

	opts := vcfingest.Options{SchemaOnly: f.schemaOnly}
	if !f.quiet {
		opts.Progress = func(n int) {
			if n%1000 == 0 {
				fmt.Fprintf(os.Stderr, "\r%d rows", n)
			}
		}
	}

	result, err := vcfingest.Ingest(gz, dir, opts)
	if err != nil {
		return fmt.Errorf("vcf2wt: %w", err)
	}
	if !f.quiet {
		fmt.Fprintf(os.Stderr, "\rwrote %d rows across %d columns to %s\n", result.RowsWritten, len(result.Columns), dir)
	}
	return nil
}
