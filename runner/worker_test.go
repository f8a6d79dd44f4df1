package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/registry"
)

func encodeOrders(t *testing.T, orders ...WorkOrder) *bytes.Buffer {
	var buf bytes.Buffer
	enc := newLineEncoder(&buf)
	for _, order := range orders {
		require.NoError(t, enc.Encode(order))
	}
	return &buf
}

func decodeMessages(t *testing.T, r io.Reader) []Message {
	dec := newLineDecoder(r)
	var msgs []Message
	for {
		var msg Message
		err := dec.Decode(&msg)
		if errors.Is(err, io.EOF) {
			return msgs
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func TestServeWorker_RunsOrdersThenExits(t *testing.T) {
	reg := registry.New(log.New())
	one := registerPassing(t, reg, "zest_one")
	two := registerMath(t, reg)
	out := t.TempDir()

	var msgs bytes.Buffer
	err := ServeWorker(context.Background(), WorkerConfig{
		Registry: reg,
		In:       encodeOrders(t, ordersFor(out, one, two)...),
		Out:      &msgs,
		Pid:      4242,
	})
	require.NoError(t, err)

	got := decodeMessages(t, &msgs)
	require.NotEmpty(t, got)

	var kinds []MessageKind
	records := 0
	for _, msg := range got {
		assert.Equal(t, 4242, msg.Pid)
		if msg.Kind == MessageRecord {
			records++
			assert.Equal(t, 4242, msg.Record.Pid)
			continue
		}
		kinds = append(kinds, msg.Kind)
	}
	// two nodes in zest_one and four in zest_math, start and stop each
	assert.Equal(t, 12, records)
	assert.Equal(t, []MessageKind{MessageDone, MessageDone, MessageExit}, kinds)

	// the worker mirrors every record into the root's event log
	replayed, _, err := logging.ReplayEventLog(logging.EventLogPath(out, "zest_math"))
	require.NoError(t, err)
	assert.Len(t, replayed, 8)
}

func TestServeWorker_FaultEndsWorker(t *testing.T) {
	reg := registry.New(log.New())
	good := registerPassing(t, reg, "zest_good")
	out := t.TempDir()

	var msgs bytes.Buffer
	err := ServeWorker(context.Background(), WorkerConfig{
		Registry: reg,
		In: encodeOrders(t,
			WorkOrder{FullName: "zest_missing", OutputFolder: out, RunAll: true},
			ordersFor(out, good)[0],
		),
		Out: &msgs,
		Pid: 7,
	})
	require.NoError(t, err)

	got := decodeMessages(t, &msgs)
	require.Len(t, got, 2, "the second order is never read")
	assert.Equal(t, MessageFault, got[0].Kind)
	require.NotNil(t, got[0].Fault)
	assert.Equal(t, "zest_missing", got[0].Fault.Root)
	assert.Equal(t, 7, got[0].Fault.Pid)
	assert.Equal(t, MessageExit, got[1].Kind)
}

func TestServeWorker_EnginePanicBecomesFault(t *testing.T) {
	reg := registry.New(log.New())
	bad, err := reg.Register("zest_bad", func(z *engine.Z) {})
	require.NoError(t, err)
	// a nil child makes the engine itself panic, outside any zest body
	bad.Node.Children = []*engine.TestNode{nil}
	good := registerPassing(t, reg, "zest_good")
	out := t.TempDir()

	var msgs bytes.Buffer
	err = ServeWorker(context.Background(), WorkerConfig{
		Registry: reg,
		In:       encodeOrders(t, ordersFor(out, bad, good)...),
		Out:      &msgs,
		Pid:      11,
	})
	require.NoError(t, err)

	var fault *WorkerFault
	var kinds []MessageKind
	for _, msg := range decodeMessages(t, &msgs) {
		if msg.Kind == MessageRecord {
			assert.Equal(t, "zest_bad", msg.Root, "the second order is never read")
			continue
		}
		kinds = append(kinds, msg.Kind)
		if msg.Kind == MessageFault {
			fault = msg.Fault
		}
	}
	assert.Equal(t, []MessageKind{MessageFault, MessageExit}, kinds)
	require.NotNil(t, fault)
	assert.Equal(t, "zest_bad", fault.Root)
	assert.Equal(t, 11, fault.Pid)
	assert.Equal(t, "WorkerPanic", fault.Error.ClassName)
	assert.Contains(t, fault.Error.Message, "nil pointer dereference")
	require.NotEmpty(t, fault.Error.Frames)
	for _, frame := range fault.Error.Frames {
		assert.NotContains(t, frame, " in runtime.")
	}
	assert.Contains(t, strings.Join(fault.Error.Frames, "\n"), "engine.(*Engine).runNode")

	// the event log was closed and holds the records written before the panic
	replayed, warnings, err := logging.ReplayEventLog(logging.EventLogPath(out, "zest_bad"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.NotEmpty(t, replayed)
}

func TestServeWorker_Warnings(t *testing.T) {
	reg := registry.New(log.New())
	root, err := reg.Register("zest_forgetful", func(z *engine.Z) {
		z.It("it_never_runs", func(z *engine.Z) {})
	})
	require.NoError(t, err)

	var msgs bytes.Buffer
	err = ServeWorker(context.Background(), WorkerConfig{
		Registry: reg,
		In:       encodeOrders(t, ordersFor(t.TempDir(), root)...),
		Out:      &msgs,
	})
	require.NoError(t, err)

	for _, msg := range decodeMessages(t, &msgs) {
		if msg.Kind == MessageDone {
			require.Len(t, msg.Warnings, 1)
			assert.Contains(t, msg.Warnings[0], "zest_forgetful")
			return
		}
	}
	t.Fatal("no done message")
}

func TestServeWorker_BadInput(t *testing.T) {
	err := ServeWorker(context.Background(), WorkerConfig{})
	require.Error(t, err)

	var msgs bytes.Buffer
	err = ServeWorker(context.Background(), WorkerConfig{
		Registry: registry.New(log.New()),
		In:       bytes.NewBufferString("not json\n"),
		Out:      &msgs,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read work order")
}
