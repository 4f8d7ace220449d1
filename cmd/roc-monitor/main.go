// Command roc-monitor is a terminal dashboard that polls a running
// roc-recv process's control-plane endpoint for session status and
// renders it as a refreshing colored table plus a jitter-buffer-depth
// history graph.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"golang.org/x/term"

	"roc/internal/ctltransport"
)

// status mirrors roc-recv's statusResponse Data payload.
type status struct {
	Dropped        uint64 `json:"dropped"`
	WatchdogDead   bool   `json:"watchdog_dead"`
	JitterBufDepth int    `json:"jitter_buffer_depth"`
}

func main() {
	addr := flag.String("addr", "127.0.0.1:10002", "roc-recv control-plane address")
	interval := flag.Duration("interval", 500*time.Millisecond, "poll interval")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; cancel() }()

	client := ctltransport.NewClient(log, *addr)
	defer client.Close()

	run(ctx, client, *interval)
}

func run(ctx context.Context, client *ctltransport.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var history []float64
	const maxHistory = 300 // five minutes at a 1s poll, proportionally less at shorter intervals

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp, err := client.Submit(ctx, ctltransport.Request{Op: "status"})
		if err != nil {
			renderError(err)
			continue
		}
		if !resp.OK {
			renderError(fmt.Errorf("%s", resp.Error))
			continue
		}
		var st status
		if err := json.Unmarshal(resp.Data, &st); err != nil {
			renderError(err)
			continue
		}

		history = append(history, float64(st.JitterBufDepth))
		if len(history) > maxHistory {
			history = history[len(history)-maxHistory:]
		}
		render(st, history)
	}
}

func renderError(err error) {
	fmt.Print("\033[H\033[2J")
	red := color.New(color.FgRed).SprintFunc()
	fmt.Println(red("roc-monitor: unreachable: " + err.Error()))
}

func render(st status, history []float64) {
	fmt.Print("\033[H\033[2J")

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	aliveCell := green("alive")
	if st.WatchdogDead {
		aliveCell = red("dead")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Append([]string{"Session", "Dropped", "Jitter depth"})
	table.Append([]string{
		aliveCell,
		yellow(fmt.Sprintf("%d", st.Dropped)),
		fmt.Sprintf("%d", st.JitterBufDepth),
	})
	table.Render()

	if len(history) >= 2 {
		width := graphWidth()
		fmt.Println(asciigraph.Plot(history,
			asciigraph.Height(10),
			asciigraph.Width(width),
			asciigraph.Caption("jitter buffer depth (packets)"),
		))
	}
}

// graphWidth sizes the history graph to the terminal, falling back to a
// fixed width when stdout isn't a terminal (e.g. piped into a file).
func graphWidth() int {
	const fallback = 70
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 10 {
		return fallback
	}
	if w > 120 {
		w = 120
	}
	return w - 10
}
