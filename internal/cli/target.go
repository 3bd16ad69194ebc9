package cli

import (
	"fmt"

	"camera2url/internal/api"

	"github.com/spf13/cobra"
)

// TargetCmd manages saved upload targets. The first listed target is the
// one the daemon uploads to.
func TargetCmd(cfgPath string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Manage upload targets",
	}

	var verb, note string
	setCmd := &cobra.Command{
		Use:   "set <url>",
		Short: "Save a target and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := api.ParseVerb(verb)
			if err != nil {
				return err
			}
			if _, err := api.ParseTargetURL(args[0]); err != nil {
				return err
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

			target, err := st.UpsertTarget(v, args[0], note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current target: %s (%s)\n", target.Summary(), target.ID)
			notifyDaemon(cmd, cfg)
			return nil
		},
	}
	setCmd.Flags().StringVarP(&verb, "method", "X", string(api.DefaultVerb), "HTTP method (GET, POST, PUT, PATCH, DELETE)")
	setCmd.Flags().StringVarP(&note, "note", "n", "", "text sent in the note form field")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved targets, current first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			targets, err := st.ListTargets()
			if err != nil {
				return err
			}
			renderTargets(cmd.OutOrStdout(), targets)
			return nil
		},
	}

	useCmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Make a saved target current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			target, err := st.SelectTarget(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current target: %s\n", target.Summary())
			notifyDaemon(cmd, cfg)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteAllTargets(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All targets deleted.")
			notifyDaemon(cmd, cfg)
			return nil
		},
	}

	cmd.AddCommand(setCmd, listCmd, useCmd, clearCmd)
	return cmd
}
