package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"remedy-agent/src/broker"
	"remedy-agent/src/contracts"
	"remedy-agent/src/notify"
)

var noticesGroup string

var noticesCmd = &cobra.Command{
	Use:   "notices",
	Short: "Follow team notices published by a running agent",
	Long: `Subscribes to the remedy.notifications topic on Redpanda and prints each
notice as it arrives. Requires REDPANDA_BROKERS.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(appConfig.Broker.Brokers) == 0 {
			return fmt.Errorf("REDPANDA_BROKERS is required to follow notices")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := broker.NewRedpandaBroker(appConfig.Broker.Brokers, appLogger)
		if err != nil {
			return err
		}
		defer b.Close()

		msgs, err := b.Subscribe(ctx, contracts.TopicNotifications, noticesGroup)
		if err != nil {
			return err
		}
		return followNotices(os.Stdout, msgs)
	},
}

func init() {
	noticesCmd.Flags().StringVar(&noticesGroup, "group", "remedy-notices", "Consumer group ID")
}

func followNotices(w io.Writer, msgs <-chan broker.Message) error {
	for msg := range msgs {
		notice, err := notify.Decode(msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping malformed notice: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "%s [%s] %s: %s\n",
			notice.Timestamp.Format("2006-01-02 15:04:05"), notice.Severity, notice.Build, notice.Message)
	}
	return nil
}
