package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	SchemaProgress = "progress.schema.json"
	SchemaProfile  = "profile.schema.json"
	SchemaRegister = "register.schema.json"
	SchemaSync     = "sync.schema.json"
)

const schemaBaseURL = "https://clickerclicker.app/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	names, err := fs.Glob(schemaFS, "schemas/*.json")
	if err != nil {
		schemasErr = err
		return
	}
	c := jsonschema.NewCompiler()
	for _, p := range names {
		b, err := schemaFS.ReadFile(p)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBaseURL+path.Base(p), bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("schema %s: %w", path.Base(p), err)
			return
		}
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, p := range names {
		name := path.Base(p)
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		out[name] = s
	}
	schemas = out
}

// Schema returns one of the embedded wire schemas, compiled once per process.
func Schema(name string) (*jsonschema.Schema, error) {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return nil, schemasErr
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// ValidateJSON checks raw against the named schema.
func ValidateJSON(name string, raw []byte) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
