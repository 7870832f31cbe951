package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of runs to show" default:"10"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.History == nil {
		return fmt.Errorf("build history is not configured (set history.path)")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open build history: %w", err)
	}
	defer store.Close()

	builds, err := store.Recent(context.Background(), h.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tVERSION\tARTIFACTS")
	for _, b := range builds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			b.Started.Format("2006-01-02 15:04:05"), b.Status, b.Version, strings.Join(b.Artifacts, ", "))
	}
	return w.Flush()
}
