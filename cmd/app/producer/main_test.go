package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
- event_type: order.created
  occurred_at: "2026-10-15T10:00:00Z"
  data:
    id: 12
    status: new
    isContacted: false
- event_type: shipment.status_updated
  data:
    orderId: 12
    status: cancelled
`

type recordingPublisher struct {
	keys   []string
	values [][]byte
	closed bool
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEvents(t *testing.T) {
	events, err := loadEvents(writeFixture(t, fixtureYAML))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "12", events[0].key)
	var first map[string]any
	require.NoError(t, json.Unmarshal(events[0].value, &first))
	assert.Equal(t, "order.created", first["event_type"])
	assert.Equal(t, "2026-10-15T10:00:00Z", first["occurred_at"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(events[1].value, &second))
	assert.NotEmpty(t, second["occurred_at"])
}

func TestLoadEvents_JSONAndValidation(t *testing.T) {
	events, err := loadEvents(writeFixture(t, `[{"event_type":"order.updated","data":{"id":"9"}}]`))
	require.NoError(t, err)
	assert.Equal(t, "9", events[0].key)

	_, err = loadEvents(writeFixture(t, `[{"data":{"id":1}}]`))
	assert.ErrorContains(t, err, "event_type is required")

	_, err = loadEvents(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRootCommand_Publishes(t *testing.T) {
	pub := &recordingPublisher{}
	var gotBrokers []string
	cmd := newRootCommand(func(brokers []string, topic string) publisher {
		gotBrokers = brokers
		return pub
	})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--file", writeFixture(t, fixtureYAML), "--brokers", "k1:9092,k2:9092"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, gotBrokers)
	assert.Equal(t, []string{"12", "12"}, pub.keys)
	assert.True(t, pub.closed)
	assert.Contains(t, out.String(), "published 2 events")
}

func TestRootCommand_DryRun(t *testing.T) {
	cmd := newRootCommand(func([]string, string) publisher {
		t.Fatal("dry run must not publish")
		return nil
	})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--dry-run", "-f", writeFixture(t, fixtureYAML)})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("\n")))
}
