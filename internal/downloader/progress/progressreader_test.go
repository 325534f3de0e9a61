package progress

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsAtIntervalAndEOF(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10)

	var reports []int64

	r := NewReader(context.Background(), iotestOneByte(bytes.NewReader(data)), 10, 4, func(received, total int64) {
		assert.EqualValues(t, 10, total)
		reports = append(reports, received)
	})

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Equal(t, data, out)
	assert.Equal(t, []int64{4, 8, 10}, reports)
	assert.EqualValues(t, 10, r.Received())
}

func TestReader_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewReader(ctx, bytes.NewReader(make([]byte, 64)), 64, 0, func(received, _ int64) {
		if received >= 8 {
			cancel()
		}
	})

	buf := make([]byte, 8)

	_, err := r.Read(buf)
	require.NoError(t, err)

	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}

type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	return o.r.Read(p[:1])
}

func iotestOneByte(r io.Reader) io.Reader { return oneByteReader{r: r} }
