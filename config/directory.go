package config

import (
	"context"

	"github.com/sortitionfoundation/opendlp/selection"
)

// Directory serves assemblies and manager permissions straight from the
// loaded configuration. It implements both selection.AssemblyDirectory
// and selection.Authorizer.
type Directory struct {
	assemblies map[string]Assembly
}

// NewDirectory creates a directory over the configured assemblies
func NewDirectory(cfg *Config) *Directory {
	return &Directory{assemblies: cfg.Assemblies}
}

// GetAssembly implements selection.AssemblyDirectory. An unknown id
// yields nil, not an error.
func (d *Directory) GetAssembly(ctx context.Context, id string) (*selection.Assembly, error) {
	assembly, ok := d.assemblies[id]
	if !ok {
		return nil, nil
	}

	view := &selection.Assembly{
		ID:   id,
		Name: assembly.Name,
	}
	if assembly.Selection != nil {
		view.Settings = &selection.Settings{
			SourceID:         assembly.Selection.SourceID,
			ServiceAccount:   assembly.Selection.ServiceAccount,
			IDColumn:         assembly.Selection.IDColumn,
			CheckSameAddress: assembly.Selection.CheckSameAddress,
			AddressColumns:   assembly.Selection.AddressColumns,
			ColumnsToKeep:    assembly.Selection.ColumnsToKeep,
			Algorithm:        assembly.Selection.Algorithm,
		}
	}

	return view, nil
}

// CanManage implements selection.Authorizer. A "*" entry in the manager
// list opens the assembly to everyone.
func (d *Directory) CanManage(ctx context.Context, actorID, assemblyID string) (bool, error) {
	assembly, ok := d.assemblies[assemblyID]
	if !ok {
		return false, nil
	}

	for _, manager := range assembly.Managers {
		if manager == "*" || manager == actorID {
			return true, nil
		}
	}
	return false, nil
}
