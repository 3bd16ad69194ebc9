package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// HistoryCmd lists the persisted upload outcomes, newest first.
func HistoryCmd(cfgPath string) *cobra.Command {
	var limit int
	var output string
	var wipe bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded upload outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case OutputTable, OutputJSON, OutputYAML:
			default:
				return fmt.Errorf("unsupported output format %q (use table, json or yaml)", output)
			}

			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if wipe {
				if err := st.ClearUploads(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Upload history cleared.")
				return nil
			}

			rows, err := st.ListUploads(limit)
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), rows, output, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of outcomes to show")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format: table, json or yaml")
	cmd.Flags().BoolVar(&wipe, "clear", false, "delete every recorded outcome")
	return cmd
}
