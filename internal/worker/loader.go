package worker

import (
	"fmt"

	"github.com/andresmejia3/facesift/internal/inference"
)

// DefaultCommand is the worker started when none is configured.
var DefaultCommand = []string{"python3", "-u", "python/worker.py"}

// Loader runs both models inside a single Python worker process.
type Loader struct {
	Command []string
}

func (l Loader) Load(dir string) (*inference.Models, error) {
	manifest, err := inference.LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	command := l.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	w, err := NewPythonWorker(0, command)
	if err != nil {
		return nil, err
	}

	// The worker loads the models itself; a failure here is a startup error.
	if _, err := w.Call(OpLoad, []byte(dir)); err != nil {
		w.Close()
		if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
			return nil, fmt.Errorf("%w\n%s", err, w.Cmd.Stderr.String())
		}
		return nil, err
	}

	return &inference.Models{
		Detector: w,
		Embedder: w,
		Manifest: manifest,
	}, nil
}
