// Command setlist-cli drives the catalog without the HTTP server: it submits
// videos, checks channels and works the queue from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/core"
	"github.com/vrsandeep/setlist-go/internal/media/ytdlp"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
)

const usage = `usage: setlist-cli <command> [flags]

commands:
  submit <video id or url>   queue a video at user priority
  check [-channel id]        look for new uploads of followed channels
  work                       process queued items until the queue is empty
  status [-status s]         show queue counts and recent items
  retry <queue item id>      reset a failed item and queue it again
  sweep                      fail stalled items and re-queue retryable ones
  deps                       verify yt-dlp, ffmpeg and ffprobe
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	app, err := core.New(ctx)
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	err = run(ctx, app, os.Args[1:], os.Stdout)
	app.Close()
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, app *core.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "submit":
		return runSubmit(ctx, app, args, out)
	case "check":
		return runCheck(ctx, app, args, out)
	case "work":
		return runWork(ctx, app, out)
	case "status":
		return runStatus(ctx, app, args, out)
	case "retry":
		return runRetry(ctx, app, args, out)
	case "sweep":
		report, err := app.Queue().RecoverStalled(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "failed %d stalled items, re-queued %d\n", report.Stalled, report.Requeued)
		return nil
	case "deps":
		return runDeps(ctx, app, out)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func runSubmit(ctx context.Context, app *core.App, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	res, err := app.Submitter().Submit(ctx, queue.SubmitRequest{VideoID: args[0], Priority: models.PriorityUser})
	if err != nil {
		return err
	}
	switch {
	case res.Outcome == queue.Accepted:
		fmt.Fprintf(out, "accepted: queue item %d for %s\n", res.QueueItem.ID, res.QueueItem.VideoID)
	case res.SetID != 0:
		fmt.Fprintf(out, "already_exists: set %d\n", res.SetID)
	case res.QueueItem != nil:
		fmt.Fprintf(out, "already_exists: queue item %d (%s)\n", res.QueueItem.ID, res.QueueItem.Status)
	default:
		fmt.Fprintf(out, "%s: %s\n", res.Outcome, res.Reason)
	}
	return nil
}

func runCheck(ctx context.Context, app *core.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	channel := fs.Int64("channel", 0, "catalog id of a single channel to check")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var channelID *int64
	if *channel > 0 {
		channelID = channel
	}

	report, err := app.Watcher().CheckChannels(ctx, channelID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tLISTED\tQUEUED\tKNOWN\tREJECTED\tERRORS")
	for _, c := range report.Channels {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", c.ExternalID, c.Listed, c.Queued,
			c.AlreadyCatalogued+c.AlreadyQueued, c.Rejected, len(c.Errors))
	}
	tw.Flush()
	fmt.Fprintf(out, "queued %d new uploads, %d failures\n", report.Queued, report.Failures)
	return nil
}

// runWork processes items in the foreground until nothing is eligible.
// Items waiting for a retry backoff are left for the server.
func runWork(ctx context.Context, app *core.App, out io.Writer) error {
	processed := 0
	for ctx.Err() == nil {
		worked, err := app.Dispatcher().RunOnce(ctx, "cli")
		if err != nil {
			return err
		}
		if !worked {
			break
		}
		processed++
	}
	fmt.Fprintf(out, "processed %d items\n", processed)
	return ctx.Err()
}

func runStatus(ctx context.Context, app *core.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	status := fs.String("status", "", "only list items in this status")
	limit := fs.Int("limit", 20, "number of items to list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	stats, err := app.Store().CountQueueItemsByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pending %d, processing %d, done %d, failed %d\n",
		stats.Pending, stats.Processing, stats.Done, stats.Failed)

	items, err := app.Store().ListQueueItems(ctx, models.QueueStatus(*status), *limit, 0)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVIDEO\tSTATUS\tPROGRESS\tATTEMPTS\tERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d%%\t%d/%d\t%s\n", it.ID, it.VideoID, it.Status, it.Progress,
			it.NAttempts, it.MaxAttempts, it.ErrorMessage)
	}
	return tw.Flush()
}

func runRetry(ctx context.Context, app *core.App, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid queue item id %q", errUsage, args[0])
	}
	item, err := app.Queue().RetryTerminal(ctx, id)
	if err != nil {
		return fmt.Errorf("retry queue item %d: %w", id, err)
	}
	fmt.Fprintf(out, "queue item %d for %s is pending again\n", item.ID, item.VideoID)
	return nil
}

func runDeps(ctx context.Context, app *core.App, out io.Writer) error {
	yt, ok := app.Acquirer().(*ytdlp.Client)
	if !ok {
		fmt.Fprintln(out, "acquirer has no external tooling")
		return nil
	}
	report, err := yt.CheckDependencies(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "yt-dlp %s (%s)\nffmpeg %s\nffprobe %s\n",
		report.YtDlpVersion, report.YtDlpPath, report.FFmpegPath, report.FFprobePath)
	return nil
}
