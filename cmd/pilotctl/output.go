package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"

	"github.com/example/pilot/pkg/pilotapi"
)

var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
)

var out io.Writer = os.Stdout

var tierOrder = []string{"swarm", "reactive", "fast", "planner"}

// StatusIcon returns a colored icon for a task status.
func StatusIcon(status string) string {
	switch status {
	case "success":
		return Green("✓")
	case "running":
		return Cyan("●")
	case "failed":
		return Red("✗")
	case "cancelled":
		return Dim("⊘")
	default:
		return Dim("◌")
	}
}

func HealthIcon(status string) string {
	switch status {
	case "healthy", "ok":
		return Green("●")
	case "degraded":
		return Yellow("●")
	default:
		return Red("●")
	}
}

func printResult(res pilotapi.TaskResultResponse) {
	fmt.Fprintf(out, "%s %s  %s", StatusIcon(res.Status), BoldMagenta(res.TaskID), Bold(res.Status))
	if res.DurationMillis > 0 {
		fmt.Fprintf(out, "  %s", Dim(fmt.Sprintf("%dms", res.DurationMillis)))
	}
	fmt.Fprintln(out)
	if res.Error != "" {
		fmt.Fprintf(out, "  %s %s\n", Red("error:"), res.Error)
	}
	for _, k := range sortedKeys(res.Output) {
		fmt.Fprintf(out, "  %s %v\n", Dim(k+":"), res.Output[k])
	}
}

func printQueue(st pilotapi.QueueStatusResponse) {
	fmt.Fprintf(out, "%s %d  %s %d  %s %d  %s %d  %s %d\n",
		Dim("pending"), st.Pending,
		Cyan("running"), st.Running,
		Green("done"), st.Done,
		Dim("cancelled"), st.Cancelled,
		Dim("submitted"), st.Submitted)
}

func printStats(st pilotapi.CascadeStatsResponse) {
	head := fmt.Sprintf("%s ticks", Bold(st.Total))
	if st.Estop {
		head += "  " + BoldRed("ESTOP")
	}
	fmt.Fprintln(out, head)
	counts := map[string]uint64{
		"swarm":    st.Swarm,
		"reactive": st.Reactive,
		"fast":     st.Fast,
		"planner":  st.Planner,
	}
	for _, tier := range tierOrder {
		fmt.Fprintf(out, "  %-9s %6.1f%%  %d\n", tier, st.Breakdown[tier], counts[tier])
	}
	if st.Last.Tier != "" {
		desc := st.Last.Action
		if st.Last.Reason != "" {
			desc += " (" + st.Last.Reason + ")"
		}
		fmt.Fprintf(out, "  %s #%d via %s: %s\n", Dim("last"), st.Last.Tick, BoldCyan(st.Last.Tier), desc)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
