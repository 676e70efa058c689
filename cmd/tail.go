package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/scrawl-dev/scrawl/client"
	"github.com/scrawl-dev/scrawl/internal/logging"
)

var tailCmd = &cobra.Command{
	Use:   "tail <url>",
	Short: "Connect as a read-only participant and print the event feed",
	Long: `Connect to a scrawl authority, reconcile, and print every event as a
JSON line. Useful for watching what a board is doing.

Example:
  scrawl tail ws://localhost:8320/ws`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().String("participant-id", "", "Participant identity to assert (default: generated)")
	tailCmd.Flags().String("token", "", "Signed identity token, when the authority requires one")
}

func runTail(cmd *cobra.Command, args []string) error {
	pid, _ := cmd.Flags().GetString("participant-id")
	if pid == "" {
		pid = "tail-" + ulid.Make().String()
	}
	token, _ := cmd.Flags().GetString("token")

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	c, err := client.Dial(ctx, client.Options{
		URL:           args[0],
		ParticipantID: pid,
		DisplayName:   pid,
		Token:         token,
		Logger:        logging.New(&logging.Options{Level: logging.LevelWarn, Output: os.Stderr}),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", args[0], err)
	}
	defer c.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("feed ended: client is %s", c.Status())
			}
			if err := enc.Encode(env); err != nil {
				return err
			}
		case <-sigChan:
			return nil
		}
	}
}
