package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jincoo/youtube-music-remote/internal/client"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
)

var flagSession string

var sendCmd = &cobra.Command{
	Use:   "send <play_pause|next|previous|volume|seek> [value]",
	Short: "Send one playback command to a session",
	Long: `Send one playback command to the pc endpoint of a session.

Examples:
  remotectl send --session abc play_pause
  remotectl send --session abc volume 40
  remotectl send --session abc seek 93.5`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSession == "" {
			return fmt.Errorf("--session is required")
		}
		arg := ""
		if len(args) == 2 {
			arg = args[1]
		}
		c, err := domain.NewCommand(args[0], arg)
		if err != nil {
			return err
		}
		if err := client.SendOnce(cmd.Context(), wsURL(flagServer), flagSession, c); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("sent ")+string(c.Type))
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&flagSession, "session", "s", "", "session id")
	watchCmd.Flags().StringVarP(&flagSession, "session", "s", "", "session id")
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
