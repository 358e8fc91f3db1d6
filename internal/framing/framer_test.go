package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want Frame
	}{
		{"heartbeat", []byte{0x01, 0x04}, Frame{Kind: KindHeartbeat}},
		{"heartbeat padded", []byte(" \x01\x04\r\n"), Frame{Kind: KindHeartbeat}},
		{"heartbeat inside text", []byte("abc\x01\x04def"), Frame{Kind: KindHeartbeat}},
		{"debug on", []byte("DBGON\r\n"), Frame{Kind: KindDebugOn}},
		{"capture started", []byte("  Capture Started\n"), Frame{Kind: KindCaptureStarted}},
		{"debug on is exact", []byte("DBGON now"), Frame{Kind: KindMessage, Text: "DBGON now"}},
		{"message trimmed", []byte("\t$DP,1,2 \r\n"), Frame{Kind: KindMessage, Text: "$DP,1,2"}},
		{"single control byte", []byte{0x01}, Frame{Kind: KindMessage, Text: "\x01"}},
		{"empty", []byte("\r\n"), Frame{Kind: KindMessage, Text: ""}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Split(c.in))
		})
	}
}

func TestFrameReply(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x04}, Split([]byte{0x01, 0x04}).Reply())
	assert.Nil(t, Split([]byte("DBGON")).Reply())
	assert.Nil(t, Split([]byte("Capture Started")).Reply())
	assert.Nil(t, Split([]byte("$STS:x,1")).Reply())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "heartbeat", KindHeartbeat.String())
	assert.Equal(t, "message", KindMessage.String())
}
