package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/clnode/internal/broadcast"
	"github.com/p-blackswan/clnode/internal/client"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live hook activity from the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.clientConfig()
			if err != nil {
				return err
			}
			logger := opts.clientLogger(cfg, cmd.ErrOrStderr())
			wsURL, err := client.NewClient(cfg.URL, logger).WebSocketURL()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", wsURL, err)
			}
			defer conn.Close()
			logger.Debug().Str("url", wsURL).Msg("watching")

			go func() {
				<-ctx.Done()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
			}()

			if err := watchLoop(conn, cmd.OutOrStdout(), raw); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print each message as received JSON")
	return cmd
}

// watchLoop prints messages until the connection ends. A normal close is not an error.
func watchLoop(conn *websocket.Conn, w io.Writer, raw bool) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) || errors.Is(err, io.EOF) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}
		if raw {
			fmt.Fprintln(w, string(data))
			continue
		}
		var msg broadcast.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Fprintln(w, string(data))
			continue
		}
		fmt.Fprintln(w, formatMessage(msg))
	}
}

func formatMessage(msg broadcast.Message) string {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		data = []byte("?")
	}
	return fmt.Sprintf("%s %-18s %s", msg.Timestamp.Local().Format("15:04:05"), msg.Event, data)
}
