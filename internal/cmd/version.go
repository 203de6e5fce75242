package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ratewatch/ratewatch/internal/server/handlers"
)

var (
	extended    bool
	versionJSON bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd.OutOrStdout(), extended, versionJSON)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print the extended information as JSON")
}

func printVersion(w io.Writer, extended, asJSON bool) error {
	info := handlers.CurrentVersion()
	info.App.Version = versionInfo.Version
	info.App.Commit = versionInfo.Commit
	info.App.BuildDate = versionInfo.BuildDate

	if asJSON {
		payload, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", info.App.Name, info.App.Version)
	if !extended {
		return nil
	}

	_, _ = fmt.Fprintf(w, "Commit: %s\n", info.App.Commit)
	_, _ = fmt.Fprintf(w, "Built: %s\n", info.App.BuildDate)
	_, _ = fmt.Fprintf(w, "Go: %s\n", info.App.GoVersion)
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
	_, err := fmt.Fprintf(w, "Crucible: %s\n", info.Dependencies.Crucible)
	return err
}
