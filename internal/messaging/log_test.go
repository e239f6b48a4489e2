package messaging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, p.Publish("notification.hold.expired", map[string]int64{"booking_id": 7}))
	assert.Contains(t, buf.String(), `"subject":"notification.hold.expired"`)
	assert.Contains(t, buf.String(), `booking_id`)

	assert.Error(t, p.Publish("bad", make(chan int)))
}
