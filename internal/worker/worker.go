package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/facesift/internal/inference"
	"github.com/andresmejia3/facesift/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes understood by python/worker.py
const (
	OpLoad   byte = 1
	OpDetect byte = 2
	OpEmbed  byte = 3
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewPythonWorker starts command (program followed by its arguments) as a
// model worker. Results come back over FD 3 so the worker's prints and
// library warnings on stdout/stderr never corrupt the protocol.
func NewPythonWorker(id int, command []string) (*PythonWorker, error) {
	if len(command) == 0 {
		return nil, errors.New("worker command is empty")
	}
	py := utils.NewSafeCommand(command[0], command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed message and reads one framed reply.
// Protocol: [Length][Data], length is a big-endian uint32.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Call sends op with payload and returns the reply body once the status byte
// has been checked.
func (w *PythonWorker) Call(op byte, payload []byte) ([]byte, error) {
	msg := make([]byte, 0, 1+len(payload))
	msg = append(msg, op)
	msg = append(msg, payload...)

	resp, err := w.Communicate(msg)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("python worker sent an empty response")
	}

	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		r := bytes.NewReader(resp[1:])
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("python worker error: unreadable message: %w", err)
		}
		text := make([]byte, msgLen)
		if _, err := io.ReadFull(r, text); err != nil {
			return nil, fmt.Errorf("python worker error: truncated message: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", text)
	default:
		return nil, fmt.Errorf("python worker sent unknown status %d", resp[0])
	}
}

// Detect sends a CHW tensor and decodes the per-stride reply.
func (w *PythonWorker) Detect(input []float32) ([]inference.StrideOutput, error) {
	body, err := w.Call(OpDetect, encodeFloats(input))
	if err != nil {
		return nil, err
	}
	return decodeDetection(body)
}

// Embed sends a CHW face crop and decodes the embedding reply.
func (w *PythonWorker) Embed(input []float32) ([]float32, error) {
	body, err := w.Call(OpEmbed, encodeFloats(input))
	if err != nil {
		return nil, err
	}
	return decodeEmbedding(body)
}

// Close shuts the worker down. It is safe to call more than once.
func (w *PythonWorker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			err = w.Cmd.Wait()
		}
	})
	return err
}

// Detection body, repeated per stride:
// [stride u32][n u32][scores f32*n][distances f32*4n]
func decodeDetection(body []byte) ([]inference.StrideOutput, error) {
	r := bytes.NewReader(body)
	var outs []inference.StrideOutput
	for r.Len() > 0 {
		var hdr [2]uint32
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			return nil, fmt.Errorf("bad detection header: %w", err)
		}
		n := int(hdr[1])
		scores, err := readFloats(r, n)
		if err != nil {
			return nil, fmt.Errorf("stride %d scores: %w", hdr[0], err)
		}
		dists, err := readFloats(r, 4*n)
		if err != nil {
			return nil, fmt.Errorf("stride %d distances: %w", hdr[0], err)
		}
		outs = append(outs, inference.StrideOutput{Stride: int(hdr[0]), Scores: scores, Distances: dists})
	}
	return outs, nil
}

// Embedding body: [dim u32][f32*dim]
func decodeEmbedding(body []byte) ([]float32, error) {
	r := bytes.NewReader(body)
	var dim uint32
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("bad embedding header: %w", err)
	}
	vec, err := readFloats(r, int(dim))
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("embedding: %d trailing bytes", r.Len())
	}
	return vec, nil
}

// Tensor values travel as little-endian float32, the layout numpy's tobytes() emits.
func encodeFloats(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func readFloats(r *bytes.Reader, n int) ([]float32, error) {
	if n < 0 || r.Len() < 4*n {
		return nil, io.ErrUnexpectedEOF
	}
	raw := make([]byte, 4*n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
