package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jincoo/youtube-music-remote/internal/domain"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List registered endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := fetchSessions(cmd.Context(), flagServer)
		if err != nil {
			return err
		}
		renderSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

func fetchSessions(ctx context.Context, base string) ([]domain.SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /api/sessions: %s", resp.Status)
	}
	var body struct {
		Sessions []domain.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Sessions, nil
}
