package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tempo/internal/app"
	"tempo/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the project file and list its tasks",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	p, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	s, err := app.Check(p)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "TASK\tEXECUTION\tPRIORITY\tSTART\tEND\n")
	for _, t := range s.Tasks() {
		start := t.Start.String()
		switch {
		case t.OnStartup:
			start = "on startup"
		case t.OnShutdown:
			start = "on shutdown"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.Name, t.Execution, t.Priority, start, t.End.String())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d tasks)\n", cfgPath, len(s.Tasks()))
	return nil
}
