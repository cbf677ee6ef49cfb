package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/blive-rec/blive/internal/config"
	"github.com/blive-rec/blive/internal/history"
	"github.com/blive-rec/blive/internal/utils"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [room]",
		Short: "List past recordings",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "Show at most this many sessions (0 for all)")
	cmd.Flags().Bool("parts", false, "List the files of each session")
	cmd.Flags().Bool("json", false, "Output JSON")
	return cmd
}

// sessionView is a session with its parts, as printed by history --json.
type sessionView struct {
	history.Session
	Parts []partView `json:"parts,omitempty"`
}

type partView struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	Closed bool   `json:"closed"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	withParts, _ := cmd.Flags().GetBool("parts")
	asJSON, _ := cmd.Flags().GetBool("json")

	room := ""
	if len(args) == 1 {
		room = args[0]
	}

	store, err := history.Open(config.GetHistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	sessions, err := store.Sessions(ctx, room, limit)
	if err != nil {
		return err
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		v := sessionView{Session: s}
		if withParts || asJSON {
			parts, err := store.Parts(ctx, s.TaskID)
			if err != nil {
				return err
			}
			for _, p := range parts {
				v.Parts = append(v.Parts, partView{Index: p.Index, Path: p.Path, Bytes: p.Written, Closed: p.Closed})
			}
		}
		views = append(views, v)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	printSessions(out, views, withParts)
	return nil
}

func printSessions(w io.Writer, views []sessionView, withParts bool) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No recordings yet.")
		return
	}

	fmt.Fprintf(w, "%-8s  %-10s  %-24s  %-16s  %-9s  %-10s  %s\n", "ID", "ROOM", "TITLE", "STARTED", "DURATION", "SIZE", "RESULT")
	for _, v := range views {
		id := v.TaskID
		if len(id) > 8 {
			id = id[:8]
		}

		duration, result := "-", "recording"
		if !v.StoppedAt.IsZero() {
			duration = utils.FormatDuration(v.StoppedAt.Sub(v.StartedAt).Round(time.Second))
			result = v.Reason
		}
		if v.Error != "" {
			result += ": " + v.Error
		}

		fmt.Fprintf(w, "%-8s  %-10s  %-24s  %-16s  %-9s  %-10s  %s\n",
			id, v.RoomID, truncate(v.Title, 24), utils.FormatTimeAgo(v.StartedAt), duration,
			utils.ConvertBytesToHumanReadable(v.Bytes), result)

		if withParts {
			for _, p := range v.Parts {
				fmt.Fprintf(w, "          P%-3d %10s  %s\n", p.Index, utils.ConvertBytesToHumanReadable(p.Bytes), p.Path)
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
