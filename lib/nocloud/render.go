/*
Copyright 2024 Regents of the University of California

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package nocloud renders cloud-init user-data from templates. The
// template internals stay thin; site and host values are injected and
// the sprig function map is available.
package nocloud

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/gravitational/trace"
	"github.com/spf13/afero"

	"github.com/ucdavis/cheeto/lib/types"
)

// Values is the data injected into a user-data template.
type Values struct {
	// Site is the cluster the host provisions into.
	Site *types.Site
	// Hostname is the short name of the host being provisioned.
	Hostname string
	// Extra carries free-form key=value pairs from the command line.
	Extra map[string]string
}

// Render executes one template over the values. Unknown keys are an
// error rather than an empty substitution.
func Render(name, text string, values Values) ([]byte, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, trace.BadParameter("parsing template %q: %v", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return nil, trace.BadParameter("rendering template %q: %v", name, err)
	}
	return buf.Bytes(), nil
}

// RenderFile reads a template from the filesystem and renders it.
func RenderFile(fsys afero.Fs, path string, values Values) ([]byte, error) {
	text, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	out, err := Render(path, string(text), values)
	return out, trace.Wrap(err)
}
