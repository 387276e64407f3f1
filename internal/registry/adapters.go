package registry

import (
	"os"
	"path/filepath"
	"sort"

	"toolbridge/internal/marshal"
	"toolbridge/internal/schema"
)

// DefaultAdapters returns the built-in per-tool declarations. Each entry is
// pure configuration: tool identifier, image, category, and any fixed field
// overrides the tool needs.
func DefaultAdapters(resourcesDir string) []Adapter {
	return []Adapter{
		{
			Tool:     "page-binarize",
			Title:    "Binarization",
			Category: "preprocessing",
			Image:    "toolbridge/processors:latest",
		},
		{
			Tool:     "page-crop",
			Title:    "Border Cropping",
			Category: "preprocessing",
			Image:    "toolbridge/processors:latest",
		},
		{
			Tool:     "line-segment",
			Title:    "Line Segmentation",
			Category: "layout",
			Image:    "toolbridge/processors:latest",
		},
		{
			Tool:         "text-recognize",
			Title:        "Text Recognition",
			Category:     "recognition",
			Image:        "toolbridge/processors-ocr:latest",
			ResourcesDir: resourcesDir,
			// Recognition models are staged on disk; the free-text model
			// field becomes a selection over the staged files, and several
			// chosen models are joined for the tool's fallback chain.
			FormOverrides: marshal.FormOverrides{
				"model": modelSelectionOverride(resourcesDir),
			},
			SubmitOverrides: marshal.SubmitOverrides{
				"model": {JoinWith: "+"},
			},
		},
	}
}

// modelSelectionOverride replaces a free-text model path field with a
// selection populated from the files staged under dir. With no staged files
// the override is a no-op and the schema-derived field stays.
func modelSelectionOverride(dir string) marshal.FieldOverride {
	if dir == "" {
		return marshal.FieldOverride{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return marshal.FieldOverride{}
	}

	var options []marshal.Option
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		options = append(options, marshal.Option{Value: name[:len(name)-len(filepath.Ext(name))]})
	}
	if len(options) == 0 {
		return marshal.FieldOverride{}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Value < options[j].Value })

	return marshal.FieldOverride{
		Replace: &marshal.FormField{
			Argument:    "model",
			Kind:        schema.KindSelection,
			Description: "recognition model, chosen from the staged model files",
			Options:     options,
		},
	}
}
