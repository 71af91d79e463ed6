package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gonas/internal/store"
)

var (
	checkpointDir string
	keepLast      int
	olderThanDays int
	forceClean    bool
	cleanTrace    bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage search checkpoints",
	Long: `Manage search checkpoints, listing and cleaning old ones.
Checkpoints live in <save>/search and <save>/eval and allow resuming an
interrupted search with "resume true".`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with metadata including epoch, run ID, timestamp, best accuracy and file size.`,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
You can keep only the N most recent epochs or delete checkpoints older than N days.`,
	RunE: runCleanCheckpoints,
}

var showCheckpointCmd = &cobra.Command{
	Use:   "show [epoch]",
	Short: "Show one checkpoint",
	Long:  `Print the statistics and best architecture of a checkpoint. Without an epoch the latest checkpoint is shown.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShowCheckpoint,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)
	checkpointsCmd.AddCommand(showCheckpointCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDir, "dir", "./run", "Checkpoint directory, usually <save>/search")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
	cleanCheckpointsCmd.Flags().BoolVar(&cleanTrace, "trace", false, "Also delete the epoch trace")
}

func openCheckpointStore(dir string) (store.Store, error) {
	s, err := store.NewFSStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	return s, nil
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	checkpointStore, err := openCheckpointStore(checkpointDir)
	if err != nil {
		return err
	}

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EPOCH\tRUN ID\tTIMESTAMP\tOPTIMIZER\tSPACE\tBEST ACC\tSIZE")
	fmt.Fprintln(w, "-----\t------\t---------\t---------\t-----\t--------\t----")

	var total int64
	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getFileSize(info.Path); err == nil {
			sizeStr = formatBytes(size)
			total += size
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			info.Epoch,
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Optimizer,
			info.SearchSpace,
			info.BestAccuracy,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal checkpoints: %d (%s)\n", len(infos), formatBytes(total))
	if summary, err := traceSummary(checkpointDir); err == nil {
		fmt.Println(summary)
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Failed to read trace", "dir", checkpointDir, "error", err)
	}
	return nil
}

// traceSummary describes the epoch trace in dir.
func traceSummary(dir string) (string, error) {
	r, err := store.NewTraceReader(dir)
	if err != nil {
		return "", err
	}
	defer r.Close()
	entries, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Trace: empty", nil
	}
	last := entries[len(entries)-1]
	return fmt.Sprintf("Trace: %d epoch(s), last epoch %d, best val acc %.2f",
		len(entries), last.Epoch, last.Stats["best_val_acc"]), nil
}

func runShowCheckpoint(cmd *cobra.Command, args []string) error {
	checkpointStore, err := openCheckpointStore(checkpointDir)
	if err != nil {
		return err
	}

	var cp *store.Checkpoint
	if len(args) == 1 {
		epoch, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid epoch %q: %w", args[0], err)
		}
		cp, err = checkpointStore.LoadCheckpoint(epoch)
		if err != nil {
			return err
		}
	} else if cp, err = checkpointStore.LoadLatest(); err != nil {
		return err
	}

	fmt.Printf("Run:        %s\n", cp.RunID)
	fmt.Printf("Epoch:      %d\n", cp.Epoch)
	fmt.Printf("Optimizer:  %s on %s (%s, seed %d)\n", cp.Config.Optimizer, cp.Config.SearchSpace, cp.Config.Dataset, cp.Config.Seed)
	fmt.Printf("Best acc:   %.2f\n", cp.BestAccuracy)
	fmt.Printf("Steps:      %d\n", cp.State.Steps)

	keys := make([]string, 0, len(cp.Stats))
	for k := range cp.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-14s %.4f\n", k, cp.Stats[k])
	}

	if best := bestEvaluation(cp.State.History); best != nil {
		fmt.Printf("Best architecture: %s\n", best.Arch.String())
	}
	return nil
}

func bestEvaluation(history []store.Evaluation) *store.Evaluation {
	var best *store.Evaluation
	for i := range history {
		if history[i].Arch != nil && (best == nil || history[i].Accuracy > best.Accuracy) {
			best = &history[i]
		}
	}
	return best
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	checkpointStore, err := openCheckpointStore(checkpointDir)
	if err != nil {
		return err
	}

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - epoch %d (run %s, %s)\n",
			info.Epoch,
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := checkpointStore.DeleteCheckpoint(info.Epoch); err != nil {
			slog.Error("Failed to delete checkpoint", "epoch", info.Epoch, "error", err)
			failed++
		} else {
			slog.Info("Deleted checkpoint", "epoch", info.Epoch)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)

	if cleanTrace {
		if err := store.DeleteTrace(checkpointDir); err != nil {
			return err
		}
		slog.Info("Deleted trace", "dir", checkpointDir)
	}
	return nil
}

// selectCheckpointsForDeletion applies the retention policy: checkpoints older
// than olderThanDays, plus all but the keepLast most recent ones.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast int, olderThanDays int) []store.CheckpointInfo {
	var toDelete []store.CheckpointInfo
	selected := make(map[int]bool)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.Epoch] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.CheckpointInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.Epoch] {
				toDelete = append(toDelete, info)
				selected[info.Epoch] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func getFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
