// Command producer publishes push-event fixtures to the Kafka topic the sync
// engine consumes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/duisenbekovayan/ordersync/internal/kafka"
)

type publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

type options struct {
	brokers []string
	topic   string
	file    string
	dryRun  bool
}

func main() {
	cmd := newRootCommand(func(brokers []string, topic string) publisher {
		return kafka.NewPublisher(brokers, topic)
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(newPublisher func(brokers []string, topic string) publisher) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "producer",
		Short: "Publish push-event fixtures to Kafka",
		Long: `Reads a YAML or JSON list of push events and publishes each one as a
separate message, keyed by order id.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := loadEvents(opts.file)
			if err != nil {
				return err
			}
			if opts.dryRun {
				for _, ev := range events {
					fmt.Fprintln(cmd.OutOrStdout(), string(ev.value))
				}
				return nil
			}

			pub := newPublisher(opts.brokers, opts.topic)
			defer pub.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			for _, ev := range events {
				if err := pub.Publish(ctx, ev.key, ev.value); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d events to %s\n", len(events), opts.topic)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.brokers, "brokers", []string{"localhost:9092"}, "Kafka brokers")
	cmd.Flags().StringVar(&opts.topic, "topic", "order-events", "topic to publish to")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "events.yaml", "event fixture file (YAML or JSON)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the encoded events instead of publishing")
	return cmd
}

type encodedEvent struct {
	key   string
	value []byte
}

// loadEvents reads the fixture file. JSON is valid YAML, so one decoder
// serves both.
func loadEvents(path string) ([]encodedEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var docs []map[string]any
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}

	out := make([]encodedEvent, 0, len(docs))
	for i, doc := range docs {
		if _, ok := doc["event_type"].(string); !ok {
			return nil, fmt.Errorf("fixture %d: event_type is required", i)
		}
		if _, ok := doc["occurred_at"]; !ok {
			doc["occurred_at"] = time.Now().UTC().Format(time.RFC3339)
		}
		value, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("fixture %d: %w", i, err)
		}
		out = append(out, encodedEvent{key: eventKey(doc, i), value: value})
	}
	return out, nil
}

func eventKey(doc map[string]any, i int) string {
	data, _ := doc["data"].(map[string]any)
	for _, k := range []string{"orderId", "id"} {
		switch v := data[k].(type) {
		case int:
			return strconv.Itoa(v)
		case string:
			return v
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return "fixture-" + strconv.Itoa(i)
}
