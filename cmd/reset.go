package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/spf13/cobra"
)

// RecordingExt is the file extension reset treats as a recording.
const RecordingExt = ".amdrec"

var (
	resetTables     bool
	resetRecordings string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Recordings)",
	Long:  "Clears stored data. By default, it drops the database tables. Use --recordings to also delete recordings in a directory.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing the database
		if !resetTables && resetRecordings == "" {
			resetTables = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetTables {
			if DB == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No database configured, skipping tables.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetRecordings != "" {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all recordings in %s?", resetRecordings)) {
				fmt.Println("🗑️  Clearing Recordings...")
				n, err := removeRecordings(resetRecordings)
				if err != nil {
					utils.Die("Failed to remove recordings", err, nil)
				}
				fmt.Printf("   Removed %d recordings.\n", n)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().StringVar(&resetRecordings, "recordings", "", "Delete "+RecordingExt+" recordings in this directory")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeRecordings deletes recordings directly inside dir and reports how many were removed.
func removeRecordings(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+RecordingExt))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
