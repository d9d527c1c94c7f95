// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Entry describes one configuration option.
type Entry struct {
	Path      string // YAML path, e.g. "plex.url"
	Env       string // environment variable, e.g. "PLEX_URL"
	FieldPath string // Go field path, e.g. "Plex.URL"
	Default   any
	Sensitive bool
}

// Registry is the inventory of every configuration option, built from the
// struct tags of AppConfig and the values of Default.
type Registry struct {
	Entries []Entry
	ByPath  map[string]Entry
	ByEnv   map[string]Entry
}

var (
	registryOnce sync.Once
	registry     *Registry
	registryErr  error
)

// GetRegistry returns the configuration registry.
func GetRegistry() (*Registry, error) {
	registryOnce.Do(func() {
		registry, registryErr = buildRegistry()
	})
	return registry, registryErr
}

func buildRegistry() (*Registry, error) {
	r := &Registry{
		ByPath: make(map[string]Entry),
		ByEnv:  make(map[string]Entry),
	}
	if err := r.walk("", "", reflect.ValueOf(Default())); err != nil {
		return nil, err
	}
	sort.Slice(r.Entries, func(i, j int) bool { return r.Entries[i].Path < r.Entries[j].Path })
	return r, nil
}

func (r *Registry) walk(pathPrefix, fieldPrefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("yaml")
		if name == "" || name == "-" {
			continue
		}
		path := name
		fieldPath := f.Name
		if pathPrefix != "" {
			path = pathPrefix + "." + name
			fieldPath = fieldPrefix + "." + f.Name
		}

		if f.Type.Kind() == reflect.Struct {
			if err := r.walk(path, fieldPath, v.Field(i)); err != nil {
				return err
			}
			continue
		}

		e := Entry{
			Path:      path,
			Env:       f.Tag.Get("env"),
			FieldPath: fieldPath,
			Default:   v.Field(i).Interface(),
			Sensitive: isSensitiveKey(f.Name),
		}
		if _, dup := r.ByPath[e.Path]; dup {
			return fmt.Errorf("duplicate config path %s", e.Path)
		}
		if e.Env == "" {
			return fmt.Errorf("config path %s has no environment binding", e.Path)
		}
		if _, dup := r.ByEnv[e.Env]; dup {
			return fmt.Errorf("duplicate environment variable %s", e.Env)
		}
		r.Entries = append(r.Entries, e)
		r.ByPath[e.Path] = e
		r.ByEnv[e.Env] = e
	}
	return nil
}
