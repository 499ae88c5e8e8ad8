package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/weccap/internal/export"
)

var encodeOutput string

func init() {
	encodeCmd.Flags().StringVarP(&encodeOutput, "output", "o", "", "write the CSV here instead of stdout")
	rootCmd.AddCommand(encodeCmd)
}

var encodeCmd = &cobra.Command{
	Use:   "encode <export.jsonl|export.zip>",
	Short: "Convert a JSONL export to CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		out, err := jsonlToCSV(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if encodeOutput == "" {
			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err
		}
		return os.WriteFile(encodeOutput, out, 0o644)
	},
}

func jsonlToCSV(data []byte) ([]byte, error) {
	times, records, err := export.DecodeJSONL(data)
	if err != nil {
		return nil, err
	}
	return export.EncodeCSV(times, export.Flatten(records))
}
