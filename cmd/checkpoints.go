package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/picevolve/internal/store"
	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage run checkpoints",
	Long: `Manage the checkpoints of a run. A checkpoint is written after the initial
population and after every generation; resume needs only the newest one.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all checkpoints of the run",
	Long:  `Display every checkpoint with its generation, timestamp, best energy, simulation count and file size.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCheckpoints(cmd.OutOrStdout(), v.GetString("run_dir"))
	},
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old checkpoints",
	Long: `Delete old checkpoints based on a retention policy. The newest checkpoint
is always kept so the run stays resumable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keepLast, _ := cmd.Flags().GetInt("keep-last")
		olderThan, _ := cmd.Flags().GetInt("older-than")
		force, _ := cmd.Flags().GetBool("force")
		return cleanCheckpoints(cmd.OutOrStdout(), cmd.InOrStdin(), v.GetString("run_dir"), keepLast, olderThan, force)
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	cleanCheckpointsCmd.Flags().Int("keep-last", 0, "Keep only the newest N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().Int("older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolP("force", "f", false, "Skip confirmation prompt")
}

func listCheckpoints(out io.Writer, dir string) error {
	checkpointStore, err := store.NewFSStore(dir, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	infos, err := checkpointStore.List()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECKPOINT\tGENERATION\tTIMESTAMP\tBEST ENERGY\tSIMULATIONS\tSIZE")
	fmt.Fprintln(w, "----------\t----------\t---------\t-----------\t-----------\t----")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			store.Name(info.Generation),
			formatGeneration(info.Generation),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			formatEnergy(info.BestFitness),
			info.Simulations,
			formatBytes(info.Size),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nRun: %s\nTotal checkpoints: %d\n", infos[len(infos)-1].RunID, len(infos))
	return nil
}

func cleanCheckpoints(out io.Writer, in io.Reader, dir string, keepLast, olderThanDays int, force bool) error {
	if keepLast <= 0 && olderThanDays <= 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	checkpointStore, err := store.NewFSStore(dir, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	infos, err := checkpointStore.List()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s)\n", store.Name(info.Generation), info.Timestamp.Format("2006-01-02 15:04:05"))
	}

	if !force {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := checkpointStore.Delete(info.Generation); err != nil {
			logger.Error("Failed to delete checkpoint", "generation", info.Generation, "error", err)
			failed++
			continue
		}
		logger.Info("Deleted checkpoint", "generation", info.Generation)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the retention policy. Checkpoints
// older than olderThanDays are selected, as are all but the keepLast newest
// generations. The newest checkpoint is never selected.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast int, olderThanDays int) []store.CheckpointInfo {
	if len(infos) == 0 {
		return nil
	}
	sorted := slices.Clone(infos)
	slices.SortFunc(sorted, func(a, b store.CheckpointInfo) int { return a.Generation - b.Generation })
	candidates := sorted[:len(sorted)-1]

	var cutoff time.Time
	if olderThanDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -olderThanDays)
	}

	var toDelete []store.CheckpointInfo
	for i, info := range candidates {
		byCount := keepLast > 0 && i < len(sorted)-keepLast
		byAge := olderThanDays > 0 && info.Timestamp.Before(cutoff)
		if byCount || byAge {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

func formatGeneration(gen int) string {
	if gen == store.InitGeneration {
		return "init"
	}
	return fmt.Sprintf("%d", gen)
}

// formatEnergy prints the maximised quantity, the negated fitness.
func formatEnergy(fitness float64) string {
	if math.IsInf(fitness, 0) || math.IsNaN(fitness) {
		return "-"
	}
	return fmt.Sprintf("%.6g", -fitness)
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
