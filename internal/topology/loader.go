package topology

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "topology:loader"

// Load reads the first readable topology file. It tries paths in order:
// explicit paths, then RT_TOPOLOGY_FILE, then the defaults. A file that
// exists but does not parse is an error; no file at all yields an empty
// topology.
func Load(paths ...string) (*File, error) {
	all := make([]string, 0, len(paths)+4)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("RT_TOPOLOGY_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/topology.yaml", "topology.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		f, err := Parse(data, filepath.Ext(p))
		if err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded topology %q from %s (%d routes)", logPrefix, f.Name, p, len(f.Routes)))
		return f, nil
	}

	slog.Info(fmt.Sprintf("%s - No topology file found, starting without static routes", logPrefix))
	return &File{Name: "empty"}, nil
}

// Parse decodes a topology document. ext selects the format: .json and
// .jsonc are JSON with comments, everything else is YAML.
func Parse(data []byte, ext string) (*File, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
			return nil, fmt.Errorf("parsing topology json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing topology yaml: %w", err)
		}
	}
	return &f, nil
}

// Merge overlays override onto base. Routes with the same name are
// replaced; new names are appended.
func Merge(base, override *File) *File {
	merged := *base
	merged.Routes = append([]RouteEntry(nil), base.Routes...)
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Self != "" {
		merged.Self = override.Self
	}

	index := make(map[string]int, len(merged.Routes))
	for i, r := range merged.Routes {
		index[r.Name] = i
	}
	for _, r := range override.Routes {
		if i, ok := index[r.Name]; ok {
			merged.Routes[i] = r
			continue
		}
		index[r.Name] = len(merged.Routes)
		merged.Routes = append(merged.Routes, r)
	}
	return &merged
}

// Resolve validates f and parses its addresses. inbox is the subject prefix
// used for routes without an explicit subscribe subject.
func Resolve(f *File, inbox string) (*Topology, error) {
	self, err := rtid.Parse(f.Self)
	if err != nil {
		return nil, fmt.Errorf("%s - self: %w", logPrefix, err)
	}
	t := &Topology{Name: f.Name, Self: self, byName: make(map[string]int, len(f.Routes))}

	for i, e := range f.Routes {
		if e.Name == "" {
			return nil, fmt.Errorf("%s - route %d has no name", logPrefix, i)
		}
		if _, dup := t.byName[e.Name]; dup {
			return nil, fmt.Errorf("%s - duplicate route name %q", logPrefix, e.Name)
		}
		ct, err := rtid.ParseContextType(e.Context)
		if err != nil {
			return nil, fmt.Errorf("%s - route %s: %w", logPrefix, e.Name, err)
		}
		peer, err := rtid.Parse(e.Peer)
		if err != nil {
			return nil, fmt.Errorf("%s - route %s: peer: %w", logPrefix, e.Name, err)
		}
		if e.Publish == "" {
			return nil, fmt.Errorf("%s - route %s: publish subject is required", logPrefix, e.Name)
		}
		sub := e.Subscribe
		if sub == "" {
			if inbox == "" {
				return nil, fmt.Errorf("%s - route %s: subscribe subject is required without an inbox", logPrefix, e.Name)
			}
			sub = inbox + "." + e.Name
		}
		codec := strings.ToLower(e.Codec)
		switch codec {
		case "":
			codec = "json"
		case "json", "cbor":
		default:
			return nil, fmt.Errorf("%s - route %s: unknown codec %q", logPrefix, e.Name, e.Codec)
		}

		t.byName[e.Name] = len(t.Routes)
		t.Routes = append(t.Routes, Route{
			Name:      e.Name,
			Context:   ct,
			Peer:      peer,
			Publish:   e.Publish,
			Subscribe: sub,
			Codec:     codec,
		})
	}
	return t, nil
}
