package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobvisor/internal/task"
	"jobvisor/internal/task/runner"
	"jobvisor/internal/task/scheduler"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with their schedule, next fire and last result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		next := nextFires(a.Registrations())
		data := pterm.TableData{{"Task", "Schedule", "Days", "Next", "Last", "Running"}}
		for _, t := range a.Tasks() {
			last := "-"
			if recs, err := a.History(ctx, t.Name); err == nil && len(recs) > 0 {
				r := recs[len(recs)-1]
				last = fmt.Sprintf("RC=%d %s", r.ReturnCode, humanize.Time(r.Timestamp))
			}
			data = append(data, []string{
				t.Name,
				describeSchedule(t),
				t.Days.String(),
				relative(next[t.Name], time.Now()),
				last,
				yesNo(a.Running(ctx, t)),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		for _, w := range a.Warnings() {
			pterm.Warning.Println(w)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a task now and stream its output",
	Long: `Run a task immediately, outside its schedule. The result is recorded
in history and failures are notified like a scheduled fire. The command exits
with the task's return code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		progress := make(chan runner.Line, 256)
		stop := make(chan struct{})
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for {
				select {
				case l := <-progress:
					pterm.Println(pterm.Gray("│ ") + l.Text)
				case <-stop:
					for {
						select {
						case l := <-progress:
							pterm.Println(pterm.Gray("│ ") + l.Text)
						default:
							return
						}
					}
				}
			}
		}()

		res, err := a.RunNow(cmd.Context(), args[0], progress)
		close(stop)
		<-printed
		if err != nil {
			return err
		}

		if res.Spawned {
			pterm.Success.Printfln("%s spawned (log %s)", args[0], res.LogPath)
			return nil
		}
		if res.ReturnCode == 0 {
			pterm.Success.Printfln("%s finished in %s (log %s)", args[0], res.Duration.Round(time.Millisecond), res.LogPath)
			return nil
		}
		return &exitError{
			code: exitCode(res.ReturnCode),
			msg:  fmt.Sprintf("%s failed with RC=%d after %s (log %s)", args[0], res.ReturnCode, res.Duration.Round(time.Millisecond), res.LogPath),
		}
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate NAME",
	Short: "Simulate a failure of a task to test notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		errs, err := a.SimulateFailure(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		failed := make(map[string]error, len(errs))
		for _, ce := range errs {
			failed[ce.Channel] = ce.Err
		}
		for _, ch := range a.Notifier().Channels() {
			switch err, bad := failed[ch.Name()]; {
			case !ch.Enabled():
				pterm.Info.Printfln("%s: disabled", ch.Name())
			case bad:
				pterm.Error.Printfln("%s: %v", ch.Name(), err)
			default:
				pterm.Success.Printfln("%s: sent", ch.Name())
			}
		}
		if len(errs) > 0 {
			return &exitError{code: 1}
		}
		return nil
	},
}

func nextFires(regs []scheduler.Registration) map[string]time.Time {
	out := make(map[string]time.Time, len(regs))
	for _, r := range regs {
		if r.Next.IsZero() {
			continue
		}
		if cur, ok := out[r.Task]; !ok || r.Next.Before(cur) {
			out[r.Task] = r.Next
		}
	}
	return out
}

func describeSchedule(t task.Task) string {
	switch t.Kind() {
	case task.Interval:
		return fmt.Sprintf("every %d %s", t.EveryValue, t.Unit())
	default:
		times, err := t.ScheduleTimes()
		if err != nil {
			return "invalid"
		}
		sort.Strings(times)
		return task.FormatTimes(times)
	}
}

func relative(at, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	return at.Format("Mon 15:04") + " (" + humanize.RelTime(at, now, "ago", "from now") + ")"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// exitCode maps a task return code to a process exit status.
func exitCode(rc int) int {
	if rc > 0 && rc < 256 {
		return rc
	}
	return 1
}
