// Package update holds the value types shared by the update engine:
// installed build metadata, version descriptors, artifact references and the
// results returned to callers of the check and update operations.
//
// It also defines the error taxonomy used across the engine. Callers match
// categories with errors.Is against ErrConfiguration, ErrNetwork, ErrParse,
// ErrFilesystem and ErrProcess.
package update
