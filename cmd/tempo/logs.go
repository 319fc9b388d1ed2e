package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tempo/internal/app"
	"tempo/internal/config"
	"tempo/internal/storage"
	logx "tempo/pkg/logx"
)

var (
	logsTask    string
	logsActions []string
	logsRunID   string
	logsSince   time.Duration
	logsLimit   int
	logsJSON    bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the task log repository",
	RunE:  runLogs,
}

func init() {
	f := logsCmd.Flags()
	f.StringVarP(&logsTask, "task", "t", "", "only records of this task")
	f.StringSliceVarP(&logsActions, "action", "a", nil, "only these actions (run, success, fail, terminate, inaction, crash)")
	f.StringVar(&logsRunID, "run-id", "", "only records of this run")
	f.DurationVar(&logsSince, "since", 0, "only records newer than this (e.g. 24h)")
	f.IntVarP(&logsLimit, "limit", "n", 50, "newest N records; 0 for all")
	f.BoolVar(&logsJSON, "json", false, "print records as JSON lines")
}

func runLogs(cmd *cobra.Command, args []string) error {
	p, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	q := storage.Query{TaskName: logsTask, RunID: logsRunID, Limit: logsLimit, Desc: true}
	for _, v := range logsActions {
		a, err := storage.ParseAction(v)
		if err != nil {
			return err
		}
		q.Actions = append(q.Actions, a)
	}
	if logsSince > 0 {
		q.Since = time.Now().Add(-logsSince)
	}

	repo, err := app.OpenRepo(p, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer repo.Close()

	recs, err := repo.Filter(context.Background(), q)
	if err != nil {
		return err
	}
	slices.Reverse(recs)

	if logsJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "CREATED\tTASK\tACTION\tRUN\tRUNTIME\tMESSAGE\n")
	for _, r := range recs {
		runtime := "-"
		if r.Runtime > 0 {
			runtime = r.Runtime.Round(time.Millisecond).String()
		}
		msg := r.Message
		if msg == "" && r.ExcText != "" {
			msg = firstLine(r.ExcText)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Created.Local().Format(time.DateTime), r.TaskName, r.Action, r.RunID, runtime, msg)
	}
	return w.Flush()
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
