package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"sharebox/internal/client"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginUsername string
	downloadDir   string
	watchAdmin    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in as the server admin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword()
		if err != nil {
			return err
		}

		token, err := api.Login(cmd.Context(), loginUsername, password)
		if err != nil {
			if errors.Is(err, client.ErrUnauthorized) {
				return errors.New("invalid username or password")
			}
			return err
		}
		if err := client.SaveToken(sessionPath, token); err != nil {
			return err
		}

		success("Logged in as %s", loginUsername)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved admin session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.ClearToken(sessionPath); err != nil {
			return err
		}
		success("Logged out")
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <paths...>",
	Short: "Upload files; folders are sent as ZIP archives",
	Long: `Upload one or more files. Each folder is packed into a ZIP archive
named after it before upload. Requires an admin session.

Examples:
  sharebox upload report.pdf
  sharebox upload photos/ notes.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parsed, err := client.ParseArgs(args)
		if err != nil {
			return err
		}

		uploads, err := client.PrepareUploads(parsed)
		if err != nil {
			return err
		}

		var failed int
		for _, u := range uploads {
			f, err := api.Upload(cmd.Context(), u)
			if err != nil {
				if errors.Is(err, client.ErrUnauthorized) {
					return errors.New("not logged in; run 'sharebox login' first")
				}
				failed++
				fmt.Fprintln(os.Stderr, StyleError.Render(fmt.Sprintf("%s %s: %v", IconError, u.Source, err)))
				continue
			}
			success("Uploaded %s as #%d (%s)", f.Name, f.ID, f.HumanSize)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(uploads))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List shared files, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := api.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(files) == 0 {
			info("No files shared yet")
			return nil
		}

		rows := make([][]string, 0, len(files))
		for _, f := range files {
			rows = append(rows, []string{strconv.FormatInt(f.ID, 10), f.Name, f.HumanSize, formatTime(f.UploadedAt)})
		}
		fmt.Println(renderTable([]string{"ID", "NAME", "SIZE", "UPLOADED"}, rows))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show details of a shared file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		f, err := api.Info(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Println(StyleTitle.Render(f.Name))
		fmt.Printf("  id:       %d\n", f.ID)
		fmt.Printf("  size:     %s (%d bytes)\n", f.HumanSize, f.Size)
		fmt.Printf("  uploaded: %s\n", formatTime(f.UploadedAt))
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download a shared file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		path, err := api.Download(cmd.Context(), id, downloadDir)
		if err != nil {
			return err
		}
		success("Saved %s", path)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a shared file and its download history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		res, err := api.Delete(cmd.Context(), id)
		if err != nil {
			return err
		}

		success("Deleted %s (%d download records removed)", res.Name, res.DownloadsRemoved)
		if !res.BytesRemoved {
			warn("Stored bytes could not be removed; the server will sweep them later")
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show who downloaded a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		downloads, err := api.History(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(downloads) == 0 {
			info("No downloads yet")
			return nil
		}

		rows := make([][]string, 0, len(downloads))
		for _, d := range downloads {
			rows = append(rows, []string{formatTime(d.DownloadedAt), d.ClientAddress})
		}
		fmt.Println(renderTable([]string{"WHEN", "CLIENT"}, rows))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := api.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(renderTable([]string{"FILES", "DOWNLOADS", "STORAGE"}, [][]string{{
			strconv.FormatInt(s.TotalFiles, 10),
			strconv.FormatInt(s.TotalDownloads, 10),
			s.StorageHuman,
		}}))
		if s.RemoveFailures > 0 {
			warn("%d stored objects could not be removed", s.RemoveFailures)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow uploads, downloads and deletions live",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		info("Watching %s (Ctrl+C to stop)", serverURL)
		return api.Watch(ctx, watchAdmin, func(ev client.Event) {
			fmt.Println(describeEvent(ev))
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "admin", "Admin username")
	downloadCmd.Flags().StringVarP(&downloadDir, "output", "o", ".", "Directory to save into")
	watchCmd.Flags().BoolVar(&watchAdmin, "admin", false, "Join the admin channel (needs a session)")
}

// promptPassword reads the password without echo from a terminal, or a
// single line from piped stdin.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func describeEvent(ev client.Event) string {
	var d struct {
		ID            int64  `json:"id"`
		Name          string `json:"name"`
		HumanSize     string `json:"human_size"`
		ClientAddress string `json:"client_address"`
		Level         string `json:"type"`
		Message       string `json:"message"`
	}
	_ = json.Unmarshal(ev.Data, &d)

	switch ev.Type {
	case "file_added":
		return StyleSuccess.Render(fmt.Sprintf("+ #%d %s (%s)", d.ID, d.Name, d.HumanSize))
	case "file_deleted":
		return StyleWarning.Render(fmt.Sprintf("- #%d deleted", d.ID))
	case "file_downloaded":
		return StyleInfo.Render(fmt.Sprintf("↓ %s by %s", d.Name, d.ClientAddress))
	case "admin_notification":
		return StyleMuted.Render(fmt.Sprintf("[%s] %s", d.Level, d.Message))
	case "status":
		return StyleMuted.Render(d.Message)
	default:
		return StyleMuted.Render(ev.Type + " " + string(ev.Data))
	}
}
