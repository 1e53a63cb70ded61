package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobvisor/internal/app"
	"jobvisor/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [NAME]",
	Short: "Show recorded executions of a task, or a summary of all tasks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			recs, err := a.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				pterm.Info.Printfln("no history for %q", args[0])
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(recordRows(recs, historyLimit, time.Now())).Render()
		}
		return renderSummary(cmd, a)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "newest records to show (0 = all)")
}

func renderSummary(cmd *cobra.Command, a *app.App) error {
	names, err := a.HistoryTasks(cmd.Context())
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Task", "Runs", "Failures", "Last"}}
	for _, name := range names {
		recs, err := a.History(cmd.Context(), name)
		if err != nil {
			return err
		}
		failures := 0
		for _, r := range recs {
			if r.ReturnCode != 0 {
				failures++
			}
		}
		last := "-"
		if n := len(recs); n > 0 {
			last = fmt.Sprintf("RC=%d %s", recs[n-1].ReturnCode, humanize.Time(recs[n-1].Timestamp))
		}
		data = append(data, []string{name, strconv.Itoa(len(recs)), strconv.Itoa(failures), last})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// recordRows renders the newest limit records, newest first.
func recordRows(recs []history.Record, limit int, now time.Time) pterm.TableData {
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	data := pterm.TableData{{"When", "RC", "Duration", "Age"}}
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		rc := strconv.Itoa(r.ReturnCode)
		if r.ReturnCode != 0 {
			rc = pterm.Red(rc)
		}
		data = append(data, []string{
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rc,
			(time.Duration(r.Duration * float64(time.Second))).Round(time.Millisecond).String(),
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
		})
	}
	return data
}
