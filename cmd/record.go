package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/blive-rec/blive/internal/config"
	"github.com/blive-rec/blive/internal/download"
	"github.com/blive-rec/blive/internal/engine"
	"github.com/blive-rec/blive/internal/engine/events"
	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/history"
	"github.com/blive-rec/blive/internal/source"
	"github.com/blive-rec/blive/internal/tui"
	"github.com/blive-rec/blive/internal/utils"
)

// roomSpec is one room to record and its stream URLs.
type roomSpec struct {
	RoomID string
	URLs   []string
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record [room url...]",
		Short: "Record one or more live rooms",
		Long: `Record a room from the given stream URLs. The stream kind is guessed from
the URL: .m3u8 playlists are fetched segment by segment, anything else as one
continuous FLV or TS response. Use --batch to record several rooms at once.`,
		Example: `  blive record 1000 https://cdn.example.com/live/1000.flv
  blive record --no-tui --batch rooms.txt`,
		RunE: runRecord,
	}
	cmd.Flags().StringP("batch", "b", "", "File with one room per line: ROOM URL [URL...]")
	cmd.Flags().StringP("output", "o", "", "Output directory (default: record_dir setting)")
	cmd.Flags().StringP("quality", "q", "", "Quality name or qn code (default: quality setting)")
	cmd.Flags().String("format", "", "Container: flv, ts or fmp4 (default: guessed from the URL)")
	cmd.Flags().String("codec", "", "Codec: avc or hevc (default: codec setting)")
	cmd.Flags().String("template", "", "Filename template (default: filename_template setting)")
	cmd.Flags().String("max-part-size", "", "Roll to a new part after this size, e.g. 2GiB")
	cmd.Flags().String("title", "", "Room title used in file names")
	cmd.Flags().String("up", "", "Streamer name used in file names")
	cmd.Flags().String("area", "", "Area name used in file names")
	cmd.Flags().Bool("no-tui", false, "Print events instead of starting the dashboard")
	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	settings, path, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if err := applyRecordFlags(cmd, settings); err != nil {
		return err
	}

	rooms, err := collectRooms(cmd, args)
	if err != nil {
		return err
	}

	initializeGlobalState(settings)
	defer utils.CloseDebug()

	quality, err := types.ParseQuality(settings.Recording.Quality)
	if err != nil {
		return err
	}
	resolver := source.NewStatic(parseStrategy(settings.Recording.Strategy))
	requests := make([]engine.Request, 0, len(rooms))
	for _, r := range rooms {
		st := source.Guess(quality, r.URLs...)
		st.Codec = types.Codec(settings.Recording.Codec)
		if cmd.Flags().Changed("format") {
			st.Container = types.Container(settings.Recording.Format)
		}
		resolver.SetRoom(roomInfo(cmd, r.RoomID), st)
		requests = append(requests, engine.Request{
			RoomID:    r.RoomID,
			Quality:   st.Quality,
			Codec:     st.Codec,
			Container: st.Container,
			OutputDir: settings.General.RecordDir,
		})
	}

	runtime := types.ConvertRuntimeConfig(settings.ToRuntimeConfig())
	var opts []download.ManagerOption
	if settings.General.KeepHistory {
		store, err := history.Open(config.GetHistoryPath())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, download.WithObserver(store.Observer()))
	}
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	if noTUI {
		opts = append(opts, download.WithObserver(printEvents(cmd.OutOrStdout())))
	}
	mgr := download.NewManager(resolver, runtime, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tasks []*engine.Task
	for _, req := range requests {
		task, err := mgr.Start(ctx, req)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "room %s: %v\n", req.RoomID, err)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return errors.New("no room could be started")
	}

	if noTUI {
		waitTasks(ctx, tasks)
	} else if err := runTUI(ctx, mgr, settings, path); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error running dashboard: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), runtime.GetStopTimeout()+5*time.Second)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

// applyRecordFlags writes explicit flags over the loaded settings.
func applyRecordFlags(cmd *cobra.Command, settings *config.Settings) error {
	flagKeys := map[string]string{
		"output":        "record_dir",
		"quality":       "quality",
		"format":        "format",
		"codec":         "codec",
		"template":      "filename_template",
		"max-part-size": "max_part_size",
	}
	for flag, key := range flagKeys {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		value, _ := cmd.Flags().GetString(flag)
		if err := settings.Set(key, value); err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
	}
	return nil
}

func collectRooms(cmd *cobra.Command, args []string) ([]roomSpec, error) {
	var rooms []roomSpec
	if len(args) > 0 {
		r, err := parseRoomLine(args)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	if batch, _ := cmd.Flags().GetString("batch"); batch != "" {
		more, err := readRoomsFromFile(batch)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, more...)
	}
	if len(rooms) == 0 {
		return nil, errors.New("nothing to record: give a room and its URLs, or --batch")
	}
	return rooms, nil
}

func parseRoomLine(fields []string) (roomSpec, error) {
	if len(fields) < 2 {
		return roomSpec{}, fmt.Errorf("room %q needs at least one stream URL", strings.Join(fields, " "))
	}
	return roomSpec{RoomID: fields[0], URLs: fields[1:]}, nil
}

// readRoomsFromFile reads rooms from a file, one per line. Blank lines and
// lines starting with # are skipped.
func readRoomsFromFile(path string) ([]roomSpec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var rooms []roomSpec
	scanner := bufio.NewScanner(file)

	// Stream URLs carry long signed query strings
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parseRoomLine(strings.Fields(line))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		rooms = append(rooms, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return rooms, nil
}

func roomInfo(cmd *cobra.Command, roomID string) types.Room {
	title, _ := cmd.Flags().GetString("title")
	up, _ := cmd.Flags().GetString("up")
	area, _ := cmd.Flags().GetString("area")
	if title == "" {
		title = roomID
	}
	if up == "" {
		up = "room"
	}
	return types.Room{ID: roomID, Title: title, UpName: up, AreaName: area, Live: true, LiveTime: time.Now()}
}

func parseStrategy(s string) types.Strategy {
	if s == types.StrategyPriorityConfig.String() {
		return types.StrategyPriorityConfig
	}
	return types.StrategyLowCost
}

func runTUI(ctx context.Context, mgr *download.Manager, settings *config.Settings, path string) error {
	tui.ApplyTheme(settings.General.Theme)
	p := tea.NewProgram(tui.NewRootModel(mgr, settings, path), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return err
	}
	return nil
}

// waitTasks blocks until every task stopped or ctx is cancelled.
func waitTasks(ctx context.Context, tasks []*engine.Task) {
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return
		}
	}
}

// printEvents returns an observer that writes one line per structural event.
func printEvents(w io.Writer) download.Observer {
	var mu sync.Mutex
	return func(ev events.Event) {
		var line string
		switch m := ev.(type) {
		case events.StartedMsg:
			line = fmt.Sprintf("[%s] Started: %s (%s, %s)", m.RoomID, m.Part.Path, m.Session.Protocol, m.Session.Container)
		case events.ReconnectingMsg:
			line = fmt.Sprintf("[%s] Reconnecting in %s (attempt %d): %s", m.RoomID, m.Delay, m.Attempt, m.Err)
		case events.PartRolledMsg:
			line = fmt.Sprintf("[%s] Part %d saved: %s (%s)", m.RoomID, m.Closed.Index, m.Closed.Path,
				utils.ConvertBytesToHumanReadable(m.Closed.Written))
		case events.ErrorMsg:
			line = fmt.Sprintf("[%s] Error (%s): %s", m.RoomID, m.Kind, m.Message)
		case events.StoppedMsg:
			line = fmt.Sprintf("[%s] Stopped (%s): %s in %d part(s), %d reconnect(s)", m.RoomID, m.Reason,
				utils.ConvertBytesToHumanReadable(m.Stats.BytesReceived), len(m.Parts), m.Stats.Reconnects)
		default:
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}
