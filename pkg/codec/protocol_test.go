package codec

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	require.NoError(t, ValidateCommand("getTempA"))
	require.NoError(t, ValidateCommand("  getTempA  "))
	require.NoError(t, ValidateCommand("setTempWWsoll 50"))

	err := ValidateCommand("   ")
	require.Error(t, err)
	assert.Equal(t, "command error: empty command", err.Error())

	err = ValidateCommand("bad\x01cmd")
	require.Error(t, err)
	assert.Equal(t, "command error: invalid characters", err.Error())
}

func TestFormatCommand(t *testing.T) {
	line, err := FormatCommand("  getTempA  ")
	require.NoError(t, err)
	assert.Equal(t, "getTempA\n", line)

	_, err = FormatCommand("")
	require.Error(t, err)
}

func TestFormatQuit(t *testing.T) {
	assert.Equal(t, "quit\n", FormatQuit())
}

func TestParseNumericResponse(t *testing.T) {
	r := ParseResponse("getTempWWObenIst", "48.1 Grad Celsius")
	n, ok := r.Value.Number()
	require.True(t, ok)
	assert.InDelta(t, 48.1, n, 0.001)
	assert.Empty(t, r.Error)
}

func TestParseErrorResponse(t *testing.T) {
	r := ParseResponse("badCommand", "ERR: command unknown")
	assert.True(t, r.Value.IsAbsent())
	assert.Equal(t, "ERR: command unknown", r.Error)
}

func TestParseStringResponse(t *testing.T) {
	r := ParseResponse("getStatus", "OK")
	s, ok := r.Value.Text()
	require.True(t, ok)
	assert.Equal(t, "OK", s)
	assert.Empty(t, r.Error)
}

func TestParseEmptyResponse(t *testing.T) {
	r := ParseResponse("getSomething", "   ")
	assert.True(t, r.Value.IsAbsent())
	assert.Empty(t, r.Error)
}

// TestParseResponseTotal exercises the invariants in §3: error set implies
// absent value; otherwise a number, text, or (for empty input) absent, but
// never both an error and a value.
func TestParseResponseTotal(t *testing.T) {
	inputs := []string{
		"",
		" ",
		"ERR:",
		"ERR: x",
		"3.14",
		"-2",
		"1e10",
		"NaN unit",
		"hello world",
		"\x00\x01",
	}
	for _, s := range inputs {
		r := ParseResponse("cmd", s)
		if r.HasError() {
			assert.True(t, r.Value.IsAbsent(), "input %q: error result must have absent value", s)
		}
	}
}

func TestBuildJSONResponse(t *testing.T) {
	results := []CommandResult{
		{Command: "getTempA", Value: NumberValue(21.5)},
		{Command: "getTempB", Value: NumberValue(45.0)},
		{Command: "getBad", Value: Absent, Error: "ERR: nope"},
	}
	out, err := BuildJSONResponse(results)
	require.NoError(t, err)
	assert.Equal(t, `{"getTempA":21.5,"getTempB":45}`, out)
}

func TestBuildJSONResponseKeyOrderAndNull(t *testing.T) {
	results := []CommandResult{
		{Command: "b", Value: TextValue("x")},
		{Command: "a", Value: Absent},
	}
	out, err := BuildJSONResponse(results)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"x","a":null}`, out)
}

func TestFormatNumberIdempotent(t *testing.T) {
	cases := []float64{42, -10, 0, 48.1, 3.14159, 0.5, 100.0, -0.000001}
	for _, n := range cases {
		s1 := FormatNumber(n)
		reparsed, err := strconv.ParseFloat(s1, 64)
		require.NoError(t, err)
		s2 := FormatNumber(reparsed)
		assert.Equal(t, s1, s2, "format not idempotent for %v", n)
	}
}

func TestReadUntilPromptExactBoundary(t *testing.T) {
	body := "48.1 Grad Celsius"
	r := strings.NewReader(body + Prompt)
	var out string
	err := ReadUntilPrompt(r, &out)
	require.NoError(t, err)
	assert.Equal(t, body+Prompt, out)
}

func TestReadUntilPromptTrailingBytesDontChangeResult(t *testing.T) {
	// Reading stops exactly when the prompt is seen; bytes written after are
	// simply not consumed by this call.
	body := "21.5 Grad Celsius"
	r := strings.NewReader(body + Prompt + "ignored-trailer")
	var out string
	err := ReadUntilPrompt(r, &out)
	require.NoError(t, err)
	assert.Equal(t, body+Prompt, out)
}

func TestReadUntilPromptConnectionLost(t *testing.T) {
	r := strings.NewReader("partial response no prompt")
	var out string
	err := ReadUntilPrompt(r, &out)
	require.Error(t, err)
	var lost *ConnectionLostError
	assert.ErrorAs(t, err, &lost)
}

func TestReadUntilPromptNonASCII(t *testing.T) {
	body := "48.1 Grad Celsius (°C)"
	r := bytes.NewReader([]byte(body + Prompt))
	var out string
	err := ReadUntilPrompt(r, &out)
	require.NoError(t, err)
	assert.Equal(t, body+Prompt, out)
}

type errAfterReader struct {
	data []byte
	pos  int
	err  error
}

func (r *errAfterReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.pos:r.pos+1])
	r.pos += n
	return n, nil
}

func TestReadUntilPromptIOError(t *testing.T) {
	sentinel := io.ErrClosedPipe
	r := &errAfterReader{data: []byte("no prompt here"), err: sentinel}
	var out string
	err := ReadUntilPrompt(r, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestExtractResponse(t *testing.T) {
	resp, ok := ExtractResponse("  21.5 Grad  " + Prompt)
	require.True(t, ok)
	assert.Equal(t, "21.5 Grad", resp)

	_, ok = ExtractResponse("no prompt in here")
	assert.False(t, ok)
}

func TestHasPromptAndIsErrorResponse(t *testing.T) {
	assert.True(t, HasPrompt("foo"+Prompt))
	assert.False(t, HasPrompt("foo"))
	assert.True(t, IsErrorResponse("ERR: bad"))
	assert.False(t, IsErrorResponse("21.5"))
}
