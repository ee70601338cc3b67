// Command fiberscript runs, tokenizes, parses, compiles or disassembles
// fiberscript source files from the shell, using the example host
// library in internal/fiberlib as its capability set.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fiberscript/fiberscript"
	"github.com/fiberscript/fiberscript/internal/fiberlib"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "fiberscript",
		Short: "Run and inspect fiberscript programs",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newRunCmd(), newTokenizeCmd(), newParseCmd(), newCompileCmd(), newDisasmCmd())
	return root
}

func readSource(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(path)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [file]",
		Short: "Compile and execute a fiberscript program synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			cfg := fiberscript.NewConfig()
			lib := fiberlib.New().Build(cfg)
			script, err := fiberscript.CompileSource(src, lib, cfg)
			if err != nil {
				return err
			}
			heap := fiberscript.NewHeap(cfg)
			v, err := script.ExecSync(heap, lib, cfg, fiberscript.Undefined, nil)
			if err != nil {
				return err
			}
			fmt.Println(v.Debug())
			return nil
		},
	}
}

func newTokenizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokenize [file]",
		Short: "Print the token stream for a fiberscript source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			tok := fiberscript.NewTokenizer(src)
			for {
				t, err := tok.Next()
				if err != nil {
					return err
				}
				fmt.Printf("%-12v %-10q line=%d col=%d\n", t.Kind, t.Text, t.Line, t.Col)
				if t.Kind == fiberscript.TokEOF {
					return nil
				}
			}
		},
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a fiberscript source file and print its statement count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			block, err := fiberscript.ParseProgram(src)
			if err != nil {
				return err
			}
			fmt.Printf("parsed %d top-level statements\n", len(block.Statements))
			return nil
		},
	}
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile [file]",
		Short: "Compile a fiberscript source file and report bytecode stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			cfg := fiberscript.NewConfig()
			lib := fiberlib.New().Build(cfg)
			script, err := fiberscript.CompileSource(src, lib, cfg)
			if err != nil {
				return err
			}
			c := script.Compiled()
			fmt.Printf("instructions=%d consts=%d strings=%d vars=%d stack=%d async=%v\n",
				len(c.Codes), len(c.Consts), len(c.Strings), c.VarTableSize, c.StackSize, c.ContainsAsync)
			return nil
		},
	}
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm [file]",
		Short: "Compile a fiberscript source file and print its bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			cfg := fiberscript.NewConfig()
			lib := fiberlib.New().Build(cfg)
			script, err := fiberscript.CompileSource(src, lib, cfg)
			if err != nil {
				return err
			}
			fmt.Print(fiberscript.Disassemble(script.Compiled()))
			return nil
		},
	}
}
