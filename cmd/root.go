// Package cmd defines the raahi-agent command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "raahi-agent",
	Short: "Raahi - conversational assistant backend for drivers",
	Long: `Raahi is the conversational backend behind the CabsWale driver app.
It classifies a driver's request, runs the matching feature flow through a
tool-calling loop against Gemini, and returns the UI action and audio the
app should play.

Run "raahi-agent serve" to start the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
