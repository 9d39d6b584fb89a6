package dap

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte(`{"seq":1}`)))
	require.NoError(t, writeMessage(&buf, []byte(`{"seq":2}`)))
	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: 9\r\n\r\n{"))

	r := bufio.NewReader(&buf)
	first, err := readMessage(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1}`, string(first))

	second, err := readMessage(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":2}`, string(second))

	_, err = readMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageHeaders(t *testing.T) {
	in := "content-length:2\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n{}"
	msg, err := readMessage(bufio.NewReader(strings.NewReader(in)))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(msg))
}

func TestReadMessageErrors(t *testing.T) {
	tests := map[string]string{
		"missing length":  "Content-Type: x\r\n\r\n{}",
		"bad length":      "Content-Length: abc\r\n\r\n{}",
		"negative length": "Content-Length: -1\r\n\r\n{}",
		"too large":       "Content-Length: 99999999999\r\n\r\n{}",
		"bad header":      "garbage\r\n\r\n{}",
		"short body":      "Content-Length: 10\r\n\r\n{}",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := readMessage(bufio.NewReader(strings.NewReader(in)))
			require.Error(t, err)
		})
	}
}
