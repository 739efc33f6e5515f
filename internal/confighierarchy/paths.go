package confighierarchy

import "path/filepath"

const (
	settingsFileName      = "settings.json"
	settingsLocalFileName = "settings.local.json"
	contextFileName       = "ARCHIFLOW.md"
	contextLocalFileName  = "ARCHIFLOW.local.md"
	dirName               = ".archiflow"
)

// layerPaths is the six file paths the hierarchy reads, in the order their
// settings merge (low to high precedence) and their context concatenates.
type layerPaths struct {
	globalSettings string
	globalContext  string

	projectSettings string
	projectContext  string

	localSettings string
	localContext  string
}

func resolvePaths(homeDir, workDir string) layerPaths {
	globalDir := filepath.Join(homeDir, dirName)
	projectDir := filepath.Join(workDir, dirName)
	return layerPaths{
		globalSettings:  filepath.Join(globalDir, settingsFileName),
		globalContext:   filepath.Join(globalDir, contextFileName),
		projectSettings: filepath.Join(projectDir, settingsFileName),
		projectContext:  filepath.Join(projectDir, contextFileName),
		localSettings:   filepath.Join(projectDir, settingsLocalFileName),
		localContext:    filepath.Join(projectDir, contextLocalFileName),
	}
}

// settingsOrder returns the settings files in merge precedence order.
func (p layerPaths) settingsOrder() []string {
	return []string{p.globalSettings, p.projectSettings, p.localSettings}
}

// contextOrder returns the context files in concatenation order.
func (p layerPaths) contextOrder() []string {
	return []string{p.globalContext, p.projectContext, p.localContext}
}

// all returns every known path, used for cache-invalidation fingerprinting.
func (p layerPaths) all() []string {
	return append(p.settingsOrder(), p.contextOrder()...)
}
