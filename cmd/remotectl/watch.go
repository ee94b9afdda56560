package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jincoo/youtube-music-remote/internal/client"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow player status as the session's remote",
	Long: `Register as the mobile endpoint of a session and print every status
update. A remote already registered for the session is replaced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSession == "" {
			return fmt.Errorf("--session is required")
		}
		ctx := cmd.Context()
		r, err := client.Dial(ctx, client.Options{
			URL:         wsURL(flagServer),
			SessionID:   flagSession,
			Role:        domain.RoleMobile,
			Environment: "remotectl",
		})
		if err != nil {
			return err
		}
		defer r.Close()

		out := cmd.OutOrStdout()
		err = r.Run(ctx, func(data []byte) {
			if line := describe(data); line != "" {
				fmt.Fprintln(out, line)
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// describe renders a relay frame for the terminal; frames of no interest
// render as "".
func describe(data []byte) string {
	mt, err := protocol.Decode(data)
	if err != nil {
		return ""
	}
	switch mt {
	case protocol.TypeStatusUpdate:
		var su protocol.StatusUpdate
		if err := json.Unmarshal(data, &su); err != nil {
			return ""
		}
		return statusLine(su.StatusSnapshot)
	case protocol.TypeDeviceConn, protocol.TypeDeviceDisconn:
		var ev protocol.DeviceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return ""
		}
		return mutedStyle.Render(fmt.Sprintf("%s %s", ev.DeviceType, mt))
	case protocol.TypeError:
		var e protocol.Error
		_ = json.Unmarshal(data, &e)
		return errorStyle.Render("relay: ") + e.Message
	}
	return ""
}
