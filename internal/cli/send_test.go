package cli

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uabridge/internal/mqueue"
	"github.com/roach88/uabridge/internal/wire"
)

// sendFixture pre-creates the bridge's inbound queue on a memory transport
// and returns the reading end.
func sendFixture(t *testing.T) (*mqueue.Memory, mqueue.Queue) {
	t.Helper()
	tr := mqueue.NewMemory()
	q, err := tr.Open("/codesys_to_opcua", mqueue.Options{
		Mode:        mqueue.ReadOnly,
		Create:      true,
		NonBlocking: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return tr, q
}

func executeSend(t *testing.T, tr mqueue.Transport, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newSendCommand(&SendOptions{
		RootOptions: &RootOptions{Format: format},
		Transport:   tr,
	})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func receiveRecord(t *testing.T, q mqueue.Queue) (wire.Message, uint) {
	t.Helper()
	data, prio, err := q.Receive()
	require.NoError(t, err)
	msg, err := wire.Decode(data)
	require.NoError(t, err)
	return msg, prio
}

func TestSendControlRecords(t *testing.T) {
	for _, record := range []string{"start", "end", "shutdown"} {
		t.Run(record, func(t *testing.T) {
			tr, q := sendFixture(t)

			out, err := executeSend(t, tr, "text", record)
			require.NoError(t, err)
			assert.Equal(t, "Sent "+record+" (1 bytes) to /codesys_to_opcua\n", out)

			msg, prio := receiveRecord(t, q)
			assert.Equal(t, record, msg.Tag().String())
			assert.Equal(t, uint(1), prio)
		})
	}
}

func TestSendRegister(t *testing.T) {
	tr, q := sendFixture(t)

	_, err := executeSend(t, tr, "text", "register",
		"--name", "Temperature",
		"--description", "tank temperature",
		"--kind", "double",
		"--access", "read",
		"--value", "21.5",
		"--deadband", "0.5",
		"--slot", "3",
		"--capacity", "2",
	)
	require.NoError(t, err)

	msg, _ := receiveRecord(t, q)
	reg, ok := msg.(*wire.Register)
	require.True(t, ok, "got %T", msg)

	name, _ := reg.VariableName()
	desc, _ := reg.VariableDescription()
	assert.Equal(t, "Temperature", name)
	assert.Equal(t, "tank temperature", desc)
	assert.Equal(t, wire.KindDouble, reg.Kind)
	assert.Equal(t, "read", reg.Access.String())
	assert.Equal(t, 0.5, reg.Deadband)
	assert.Equal(t, uint16(3), reg.Slot)
	assert.Equal(t, uint16(2), reg.Capacity)

	v, _, err := wire.DecodeValue(reg.Kind, &reg.Value)
	require.NoError(t, err)
	assert.Equal(t, 21.5, v)
}

func TestSendWrite(t *testing.T) {
	tr, q := sendFixture(t)

	_, err := executeSend(t, tr, "text", "write", "--name", "Pump", "--kind", "boolean", "--value", "true", "--slot", "1")
	require.NoError(t, err)

	msg, _ := receiveRecord(t, q)
	w, ok := msg.(*wire.Write)
	require.True(t, ok, "got %T", msg)

	name, _ := w.VariableName()
	assert.Equal(t, "Pump", name)
	assert.Equal(t, uint16(1), w.Slot)

	v, _, err := wire.DecodeValue(w.Kind, &w.Value)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSendJSON(t *testing.T) {
	tr, _ := sendFixture(t)

	out, err := executeSend(t, tr, "json", "end")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "end", data["record"])
	assert.Equal(t, "/codesys_to_opcua", data["queue"])
	assert.Equal(t, float64(1), data["bytes"])
	assert.Equal(t, "fc", data["hex"])
}

func TestSendCustomQueueAndPriority(t *testing.T) {
	tr := mqueue.NewMemory()
	q, err := tr.Open("/plc_in", mqueue.Options{Mode: mqueue.ReadOnly, Create: true, NonBlocking: true})
	require.NoError(t, err)
	defer q.Close()

	_, err = executeSend(t, tr, "text", "start", "--queue", "/plc_in", "--priority", "7")
	require.NoError(t, err)

	_, prio := receiveRecord(t, q)
	assert.Equal(t, uint(7), prio)
}

func TestSendMissingQueue(t *testing.T) {
	_, err := executeSend(t, mqueue.NewMemory(), "text", "start")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open queue")
}

func TestSendInvalidRecord(t *testing.T) {
	tr, _ := sendFixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown record", []string{"ping"}, "unknown record"},
		{"write without name", []string{"write", "--kind", "int32"}, "requires --name"},
		{"unknown kind", []string{"write", "--name", "X", "--kind", "decimal"}, "kind"},
		{"bad value", []string{"write", "--name", "X", "--kind", "int16", "--value", "70000"}, "--value"},
		{"bad access", []string{"register", "--name", "X", "--kind", "byte", "--access", "append"}, "access"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeSend(t, tr, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		kind wire.Kind
		in   string
		want any
	}{
		{wire.KindBoolean, "true", true},
		{wire.KindBoolean, "", false},
		{wire.KindSByte, "-5", int8(-5)},
		{wire.KindByte, "0xff", uint8(255)},
		{wire.KindInt16, "-300", int16(-300)},
		{wire.KindUInt16, "65535", uint16(65535)},
		{wire.KindInt32, "", int32(0)},
		{wire.KindUInt32, "4000000000", uint32(4000000000)},
		{wire.KindInt64, "-9000000000", int64(-9000000000)},
		{wire.KindUInt64, "18000000000000000000", uint64(18000000000000000000)},
		{wire.KindFloat, "1.5", float32(1.5)},
		{wire.KindDouble, "-2.25", -2.25},
		{wire.KindString, "hello", "hello"},
		{wire.KindString, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.in, func(t *testing.T) {
			got, err := parseValue(tt.kind, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValueErrors(t *testing.T) {
	_, err := parseValue(wire.KindSByte, "200")
	assert.Error(t, err)

	_, err = parseValue(wire.KindBoolean, "maybe")
	assert.Error(t, err)

	_, err = parseValue(wire.KindDouble, "abc")
	assert.Error(t, err)
}
