package main

import (
	"fmt"
	"os"
	"strconv"

	"sharebox/internal/client"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	sessionPath string

	// api is built by the root command before any subcommand runs.
	api *client.Client
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sharebox",
	Short: "Share files through a sharebox server",
	Long: StyleTitle.Render("sharebox") + " - single-node file sharing\n\n" +
		"Upload files and folders, browse and download what is shared,\n" +
		"and follow uploads, downloads and deletions as they happen.",
	SilenceUsage:      true,
	PersistentPreRunE: initializeClient,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, StyleError.Render(IconError+" "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("SHAREBOX_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "Server URL (env SHAREBOX_SERVER)")
	rootCmd.PersistentFlags().StringVar(&sessionPath, "session-file", "", "Where the session token is kept")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
}

func initializeClient(cmd *cobra.Command, args []string) error {
	if sessionPath == "" {
		p, err := client.SessionPath()
		if err != nil {
			return err
		}
		sessionPath = p
	}

	token, err := client.LoadToken(sessionPath)
	if err != nil {
		return err
	}

	api, err = client.New(serverURL, token)
	return err
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid file id %q", arg)
	}
	return id, nil
}
