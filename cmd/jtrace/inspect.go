package main

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daimatz/jtrace/pkg/tracer"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <document>",
	Short: "Summarize a trace document",
	Long: `Parse a document written by jtrace run and print each step with its
bindings. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		useColor := colorFlag == "on" || (colorFlag == "auto" && isTerminal(os.Stdout))

		var data []byte
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading document: %w", err)
		}
		steps, err := tracer.ParseDocument(string(data))
		if err != nil {
			return err
		}
		return writeInspect(cmd.OutOrStdout(), steps, newPalette(useColor))
	},
}

type palette struct {
	step  *color.Color
	where *color.Color
	group *color.Color
	value *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		step:  color.New(color.FgCyan, color.Bold),
		where: color.New(color.Bold),
		group: color.New(color.FgYellow),
		value: color.New(color.FgGreen),
	}
	for _, c := range []*color.Color{p.step, p.where, p.group, p.value} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// writeInspect prints a header per step followed by its bindings in
// document order.
func writeInspect(w io.Writer, steps []tracer.DocStep, p palette) error {
	for _, s := range steps {
		if _, err := fmt.Fprintf(w, "%s %s\n",
			p.step.Sprintf("step%d", s.Ordinal),
			p.where.Sprintf("%s.%s", s.ClassName, s.MethodName)); err != nil {
			return err
		}
		for _, g := range []struct {
			name     string
			bindings map[string]tracer.DocValue
		}{
			{tracer.GroupLocal, s.Locals},
			{tracer.GroupInstance, s.InstanceFields},
			{tracer.GroupClass, s.ClassFields},
		} {
			names := make([]string, 0, len(g.bindings))
			for name := range g.bindings {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				v := g.bindings[name]
				if _, err := fmt.Fprintf(w, "  %s %s %s = %s\n",
					p.group.Sprintf("%-8s", g.name), name, v.Signature, p.value.Sprint(v.Value)); err != nil {
					return err
				}
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d steps\n", len(steps))
	return err
}
