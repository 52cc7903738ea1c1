package proc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bobmcallan/toolmesh/internal/schema"
)

// Boot is the one-shot handoff written to a tool's stdin at launch.
type Boot struct {
	Servers []schema.Server `json:"servers"`
}

// WriteBoot writes the boot payload for servers. A nil list is written as [].
func WriteBoot(w io.Writer, servers []schema.Server) error {
	if servers == nil {
		servers = []schema.Server{}
	}
	data, err := json.Marshal(Boot{Servers: servers})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadBoot reads a boot payload until EOF. Empty input is an empty payload.
func ReadBoot(r io.Reader) (Boot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Boot{}, fmt.Errorf("read boot payload: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Boot{}, nil
	}
	var boot Boot
	if err := json.Unmarshal(data, &boot); err != nil {
		return Boot{}, fmt.Errorf("parse boot payload: %w", err)
	}
	return boot, nil
}

// ReadBootFromStdin reads the boot payload from os.Stdin. When stdin is an
// interactive terminal (a tool started by hand) nothing is read.
func ReadBootFromStdin() (Boot, error) {
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return Boot{}, nil
	}
	return ReadBoot(os.Stdin)
}
