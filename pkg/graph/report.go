package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"blockgraph/pkg/types"
)

// Marshal renders the graph as indented JSON with a trailing newline
func Marshal(g *types.Graph) ([]byte, error) {
	out := *g
	if out.Nodes == nil {
		out.Nodes = []types.GraphNode{}
	}
	if out.Links == nil {
		out.Links = []types.GraphEdge{}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteJSON writes the graph to w
func WriteJSON(w io.Writer, g *types.Graph) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return nil
}

// WriteFile atomically replaces path with the serialized graph. The data
// goes to a temp file in the same directory first and is renamed into place.
func WriteFile(path string, g *types.Graph) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename graph file: %w", err)
	}
	return nil
}
