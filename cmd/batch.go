package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/rekku-dl/rekku/internal/output"
	"github.com/rekku-dl/rekku/internal/utils"
)

type BatchEntry struct {
	Link string `yaml:"link"`
	Name string `yaml:"name,omitempty"`
	Dir  string `yaml:"dir,omitempty"`
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download multiple files listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading YAML file: %v\n", err)
				os.Exit(1)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing YAML file: %v\n", err)
				os.Exit(1)
			}
			var items []utils.Item
			for _, entry := range batchFile.Downloads {
				if entry.Link == "" {
					fmt.Fprintf(os.Stderr, "Warning: Empty link in batch file, skipping...\n")
					continue
				}
				items = append(items, utils.Item{URL: entry.Link, Name: entry.Name, Dir: entry.Dir})
			}
			if len(items) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			runDownloads(items)
		},
	}
	return cmd
}
