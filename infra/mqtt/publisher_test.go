package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dernego/core/monitoring"
	"github.com/kilianp07/dernego/core/schedule"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sched() schedule.Schedule {
	return schedule.Schedule{Start: t0, Step: 15 * time.Minute, Values: []float64{1, 2}}
}

func TestSchedulePublisher_Publish(t *testing.T) {
	mc := &mockClient{}
	defer useMock(mc)()
	pub, err := NewSchedulePublisher(Config{Broker: "tcp://localhost:1883", SchedulePrefix: "sim/", QoS: map[string]byte{"schedule": 1}, Retain: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mc.opts.ClientID, "publisher-"))

	require.NoError(t, pub.PublishSchedule(context.Background(), "bat1", sched()))
	require.Len(t, mc.published, 1)
	msg := mc.published[0]
	assert.Equal(t, "sim/bat1/schedule", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retain)

	var got ScheduleMessage
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "bat1", got.Resource)
	assert.Equal(t, []float64{1, 2}, got.Values)
	assert.Equal(t, 900.0, got.StepSeconds)
	assert.True(t, got.Start.Equal(t0))
}

func TestSchedulePublisher_Retry(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	defer useMock(mc)()
	pub, err := NewSchedulePublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	require.NoError(t, pub.PublishSchedule(context.Background(), "bat1", sched()))
	assert.Len(t, mc.published, 2)
}

type recordMonitor struct {
	monitoring.NopMonitor
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}

func TestSchedulePublisher_FailureCaptured(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail}}
	defer useMock(mc)()
	mon := &recordMonitor{}
	monitoring.Init(mon)
	defer monitoring.Init(monitoring.NopMonitor{})

	pub, err := NewSchedulePublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 2, BackoffMS: 1})
	require.NoError(t, err)
	err = pub.PublishSchedule(context.Background(), "bat1", sched())
	require.ErrorIs(t, err, fail)
	assert.Len(t, mc.published, 3)
	require.Error(t, mon.err)
	assert.Equal(t, "bat1", mon.tags["resource"])
	assert.Equal(t, "mqtt", mon.tags["module"])
}

func TestSchedulePublisher_ContextCanceled(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail")}}
	defer useMock(mc)()
	pub, err := NewSchedulePublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 3, BackoffMS: 1000})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pub.PublishSchedule(ctx, "bat1", sched())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mc.published, 1)
}
