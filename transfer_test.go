package ftps

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortWriter accepts at most max bytes per call.
type shortWriter struct {
	buf   bytes.Buffer
	max   int
	calls int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

// failingWriter fails after accepting limit bytes.
type failingWriter struct {
	limit int
	n     int
}

var errBrokenPipe = errors.New("broken pipe")

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		accepted := w.limit - w.n
		w.n = w.limit
		return accepted, errBrokenPipe
	}
	w.n += len(p)
	return len(p), nil
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestCopyStream_Sizes(t *testing.T) {
	t.Parallel()
	sizes := []int{0, 1, DefaultBufferSize - 1, DefaultBufferSize, DefaultBufferSize + 1, 1 << 20}

	for _, size := range sizes {
		data := randomBytes(t, size)

		var dst bytes.Buffer
		var calls int
		var last int64
		n, err := copyStream(&dst, bytes.NewReader(data), make([]byte, DefaultBufferSize), int64(size),
			func(sent, total int64) {
				calls++
				last = sent
				assert.Equal(t, int64(size), total)
			})

		require.NoError(t, err, "size %d", size)
		assert.Equal(t, int64(size), n, "size %d", size)
		assert.True(t, bytes.Equal(data, dst.Bytes()), "size %d: content differs", size)

		wantCalls := (size + DefaultBufferSize - 1) / DefaultBufferSize
		assert.Equal(t, wantCalls, calls, "size %d: progress calls", size)
		if size > 0 {
			assert.Equal(t, int64(size), last)
		}
	}
}

func TestCopyStream_OneByteReads(t *testing.T) {
	t.Parallel()
	data := randomBytes(t, 10_000)

	var dst bytes.Buffer
	n, err := copyStream(&dst, iotest.OneByteReader(bytes.NewReader(data)), make([]byte, DefaultBufferSize), -1, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, dst.Bytes())
}

func TestCopyStream_DataErrReader(t *testing.T) {
	t.Parallel()
	// The final chunk arrives together with io.EOF.
	data := randomBytes(t, 5000)

	var dst bytes.Buffer
	n, err := copyStream(&dst, iotest.DataErrReader(bytes.NewReader(data)), make([]byte, DefaultBufferSize), -1, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, dst.Bytes())
}

func TestCopyStream_ShortWritesRetried(t *testing.T) {
	t.Parallel()
	data := randomBytes(t, 3*DefaultBufferSize+17)

	w := &shortWriter{max: 1000}
	n, err := copyStream(w, bytes.NewReader(data), make([]byte, DefaultBufferSize), -1, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, w.buf.Bytes())
	assert.Greater(t, w.calls, 4)
}

func TestCopyStream_ZeroWrite(t *testing.T) {
	t.Parallel()
	n, err := copyStream(zeroWriter{}, bytes.NewReader([]byte("abc")), make([]byte, DefaultBufferSize), 3, nil)

	assert.Equal(t, int64(0), n)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestCopyStream_WriteError(t *testing.T) {
	t.Parallel()
	data := randomBytes(t, 3*DefaultBufferSize)

	w := &failingWriter{limit: DefaultBufferSize + 10}
	n, err := copyStream(w, bytes.NewReader(data), make([]byte, DefaultBufferSize), int64(len(data)), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errBrokenPipe)
	assert.Contains(t, err.Error(), "write data channel")
	assert.Equal(t, int64(DefaultBufferSize+10), n)
}

func TestCopyStream_ReadError(t *testing.T) {
	t.Parallel()
	errDisk := errors.New("disk gone")
	src := io.MultiReader(bytes.NewReader(make([]byte, 100)), iotest.ErrReader(errDisk))

	var dst bytes.Buffer
	n, err := copyStream(&dst, src, make([]byte, DefaultBufferSize), -1, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)
	assert.Contains(t, err.Error(), "read source")
	assert.Equal(t, int64(100), n)
}

func TestProgressReader(t *testing.T) {
	t.Parallel()
	var reports []int64
	pr := &ProgressReader{
		Reader: iotest.HalfReader(bytes.NewReader(make([]byte, 100))),
		Total:  100,
		Callback: func(sent, total int64) {
			assert.Equal(t, int64(100), total)
			reports = append(reports, sent)
		},
	}

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	assert.Equal(t, int64(100), pr.BytesRead())
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(100), reports[len(reports)-1])
	assert.IsIncreasing(t, reports)
}
