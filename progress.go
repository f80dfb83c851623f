package ftps

import "io"

// ProgressFunc receives the bytes sent so far and the declared total
// (negative when unknown). It runs on the uploading goroutine.
type ProgressFunc func(sent, total int64)

// ProgressReader wraps an io.Reader and reports progress via a callback.
// It is useful when the byte source is consumed by something other than
// the upload pipeline, e.g. a hashing tee.
type ProgressReader struct {
	// Reader is the underlying reader
	Reader io.Reader

	// Total is the declared length, passed through to Callback
	Total int64

	// Callback is called after each Read that returned data
	Callback ProgressFunc

	read int64
}

// Read implements io.Reader.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.read += int64(n)
	if pr.Callback != nil && n > 0 {
		pr.Callback(pr.read, pr.Total)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.read
}
