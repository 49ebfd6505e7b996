package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roman-kulish/rocket-telemetry/internal/chart"
	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/storage"
	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

const followDebounce = 250 * time.Millisecond

// timeInputLayouts are the accepted forms of --from and --to. Layouts
// without a zone are read in local time.
var timeInputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
}

type plotOptions struct {
	output    string
	format    string
	width     int
	height    int
	capacity  int
	sessionID int64
	follow    bool
	list      bool
	from      string
	to        string
}

// timeWindow limits the replayed samples. A zero bound is open.
type timeWindow struct {
	from time.Time
	to   time.Time
}

func (w timeWindow) contains(t time.Time) bool {
	if !w.from.IsZero() && t.Before(w.from) {
		return false
	}
	if !w.to.IsZero() && t.After(w.to) {
		return false
	}
	return true
}

// readerOptions maps the window onto archive reader options.
func (w timeWindow) readerOptions() []storage.ReaderOption {
	switch {
	case !w.from.IsZero() && !w.to.IsZero():
		return []storage.ReaderOption{storage.WithTimeRange(w.from, w.to)}
	case !w.from.IsZero():
		return []storage.ReaderOption{storage.WithStartTime(w.from)}
	case !w.to.IsZero():
		return []storage.ReaderOption{storage.WithEndTime(w.to)}
	default:
		return nil
	}
}

func (o *plotOptions) window() (w timeWindow, err error) {
	if w.from, err = parseTimeFlag("from", o.from); err != nil {
		return timeWindow{}, err
	}
	if w.to, err = parseTimeFlag("to", o.to); err != nil {
		return timeWindow{}, err
	}
	if !w.from.IsZero() && !w.to.IsZero() && w.from.After(w.to) {
		return timeWindow{}, fmt.Errorf("--from %s is after --to %s", o.from, o.to)
	}
	return w, nil
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeInputLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s time '%s', use RFC 3339 or 2006-01-02 15:04:05", name, value)
}

func newPlotCommand(opts *rootOptions) *cobra.Command {
	var po plotOptions

	cmd := &cobra.Command{
		Use:   "plot [session-log.csv]",
		Short: "Render the temperature and gas history to an image",
		Long: `plot replays a CSV session log, or an archived session with --session,
through the rolling history buffer and renders the temperature and MQ135
charts. With --follow the image is re-rendered whenever the log changes.
--list prints the archived sessions and their IDs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, logger := opts.config, opts.logger
			ctx := cmd.Context()

			if po.list {
				if len(args) > 0 || po.sessionID != 0 {
					return errors.New("--list takes no session log or --session")
				}
				return listSessions(ctx, config.Archive.Path, cmd.OutOrStdout())
			}

			if po.capacity == 0 {
				po.capacity = config.History.Capacity
			}

			window, err := po.window()
			if err != nil {
				return err
			}

			format, err := chart.ParseFormat(po.format)
			if err != nil {
				return err
			}

			renderer, err := chart.NewRenderer(chart.RenderConfig{Width: po.width, Height: po.height})
			if err != nil {
				return err
			}

			switch {
			case len(args) == 1 && po.sessionID != 0:
				return errors.New("either a session log or --session may be given, not both")

			case len(args) == 1:
				input := args[0]
				if po.output == "" {
					po.output = strings.TrimSuffix(input, filepath.Ext(input)) + "." + string(format)
				}

				p := &plotter{renderer: renderer, format: format, output: po.output, logger: logger}
				load := func() (history.Snapshot, error) { return loadSessionLog(input, po.capacity, window) }

				if err = p.plot(load); err != nil {
					return err
				}
				if po.follow {
					return p.follow(ctx, input, load)
				}
				return nil

			case po.sessionID != 0:
				if po.follow {
					return errors.New("--follow is only supported for session logs")
				}
				if po.output == "" {
					po.output = fmt.Sprintf("session_%d.%s", po.sessionID, format)
				}

				p := &plotter{renderer: renderer, format: format, output: po.output, logger: logger}
				return p.plot(func() (history.Snapshot, error) {
					return loadArchivedSession(ctx, config.Archive.Path, po.sessionID, po.capacity, window.readerOptions()...)
				})

			default:
				return errors.New("a session log or --session is required")
			}
		},
	}

	cmd.Flags().StringVarP(&po.output, "output", "o", "", "Output image path (default: input name with the format extension)")
	cmd.Flags().StringVarP(&po.format, "format", "f", string(chart.PNG), "Output format (png, jpeg)")
	cmd.Flags().IntVar(&po.width, "width", 0, "Image width in pixels")
	cmd.Flags().IntVar(&po.height, "height", 0, "Image height in pixels")
	cmd.Flags().IntVar(&po.capacity, "capacity", 0, "Number of most recent points to plot, overrides history.capacity")
	cmd.Flags().Int64Var(&po.sessionID, "session", 0, "Plot an archived session from archive.path")
	cmd.Flags().BoolVar(&po.follow, "follow", false, "Re-render whenever the session log changes")
	cmd.Flags().BoolVar(&po.list, "list", false, "List archived sessions instead of plotting")
	cmd.Flags().StringVar(&po.from, "from", "", "Plot samples captured at or after this time")
	cmd.Flags().StringVar(&po.to, "to", "", "Plot samples captured at or before this time")

	return cmd
}

// loadSessionLog replays the rows of a CSV session log that fall in window
// into a history buffer, keeping the most recent capacity points.
func loadSessionLog(path string, capacity int, window timeWindow) (history.Snapshot, error) {
	buf, err := history.NewBuffer(capacity)
	if err != nil {
		return history.Snapshot{}, err
	}

	err = storage.ReadLog(path, func(s telemetry.Sample) error {
		if window.contains(s.CapturedAt) {
			buf.Append(s.CapturedAt, s.Temperature, s.Gas)
		}
		return nil
	})
	if err != nil {
		return history.Snapshot{}, err
	}

	return buf.Snapshot(), nil
}

// loadArchivedSession replays an archived session into a history buffer.
func loadArchivedSession(ctx context.Context, dbPath string, sessionID int64, capacity int, opts ...storage.ReaderOption) (snap history.Snapshot, err error) {
	buf, err := history.NewBuffer(capacity)
	if err != nil {
		return history.Snapshot{}, err
	}

	if _, err = os.Stat(dbPath); err != nil {
		return history.Snapshot{}, fmt.Errorf("opening archive: %w", err)
	}

	archive := storage.NewSqliteArchive(dbPath)
	defer func() {
		err = errors.Join(err, archive.Close())
	}()

	reader, err := archive.ReadSamples(ctx, sessionID, opts...)
	if err != nil {
		return history.Snapshot{}, fmt.Errorf("reading session %d: %w", sessionID, err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	for reader.Next(ctx) {
		s := reader.Current()
		buf.Append(s.CapturedAt, s.Temperature, s.Gas)
	}
	if err = reader.Error(); err != nil {
		return history.Snapshot{}, fmt.Errorf("reading session %d: %w", sessionID, err)
	}

	return buf.Snapshot(), nil
}

// listSessions prints the sessions recorded in the archive at dbPath.
func listSessions(ctx context.Context, dbPath string, out io.Writer) (err error) {
	if _, err = os.Stat(dbPath); err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	archive := storage.NewSqliteArchive(dbPath)
	defer func() {
		err = errors.Join(err, archive.Close())
	}()

	sessions, err := archive.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	return printSessions(out, sessions)
}

func printSessions(out io.Writer, sessions []*storage.SessionRecord) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, "no archived sessions")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tPORT\tBAUD\tLOG")
	for _, rec := range sessions {
		duration := "active"
		if rec.EndTime != nil {
			duration = rec.EndTime.Sub(rec.StartTime).Round(time.Second).String()
		}
		logPath := "-"
		if rec.LogPath != nil {
			logPath = *rec.LogPath
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID,
			rec.StartTime.Local().Format(time.DateTime),
			duration,
			rec.Port,
			rec.BaudRate,
			logPath)
	}
	return w.Flush()
}

type plotter struct {
	renderer *chart.Renderer
	format   chart.Format
	output   string
	logger   *slog.Logger
}

// plot loads the history and writes the image. The image is written to a
// temporary file first so a viewer never sees a partial image.
func (p *plotter) plot(load func() (history.Snapshot, error)) (err error) {
	snap, err := load()
	if err != nil {
		return err
	}

	img, err := p.renderer.Render(snap)
	if err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.output), ".plot-*")
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = chart.Encode(tmp, img, p.format); err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	if err = os.Rename(tmp.Name(), p.output); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	size := "0 B"
	if fi, statErr := os.Stat(p.output); statErr == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	p.logger.Info("chart rendered",
		slog.String("output", p.output),
		slog.Int("points", snap.Len()),
		slog.String("size", size))

	return nil
}

// follow re-renders whenever path is written, created or renamed into place,
// until ctx is done. The parent directory is watched so the log can be
// replaced atomically.
func (p *plotter) follow(ctx context.Context, path string, load func() (history.Snapshot, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	p.logger.Info("following session log", slog.String("path", abs))

	debounce := time.NewTimer(followDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			debounce.Reset(followDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-debounce.C:
			if err = p.plot(load); err != nil {
				p.logger.Warn("failed to render chart", slog.String("error", err.Error()))
			}
		}
	}
}
