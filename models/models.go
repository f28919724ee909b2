// Package models embeds the sample classifier models shipped with Gestalyze.
package models

import (
	"embed"

	"github.com/ayusman/gestalyze/internal/classifier"
)

// FS holds online.json (26-class alphabet) and custom.json (labeled, with a scaler).
//
//go:embed *.json
var FS embed.FS

// Specs describes the embedded variants.
var Specs = []classifier.Spec{
	{ID: "custom", Kind: classifier.Labeled{}, Path: "custom.json"},
	{ID: "online", Kind: classifier.Alphabet{}, Path: "online.json"},
}

// Variants loads every embedded variant.
func Variants() ([]*classifier.Variant, error) {
	variants := make([]*classifier.Variant, 0, len(Specs))
	for _, spec := range Specs {
		v, err := classifier.LoadFS(FS, spec)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// Adapter returns a classifier adapter over the embedded variants.
func Adapter(active string) (*classifier.Adapter, error) {
	variants, err := Variants()
	if err != nil {
		return nil, err
	}
	return classifier.NewAdapter(variants, active)
}
