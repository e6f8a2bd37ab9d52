package res

import (
	"sort"
	"strings"
)

// CompressionType mirrors filedevice's BEA per-file codec enumeration --
// the extension manager's job is to say, for a given file extension, which
// codec its archive entries use.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionZstandard
)

type extensionEntry struct {
	extension   string
	compression CompressionType
	manager     *ResourceUnitManager
}

// ExtensionManager holds the ordered (extension, compression-type) table
// built at init time. GetCompressionExtension binary-searches by extension
// string; GetResourceUnitManager returns the per-extension manager (index 0
// is the default fallback for unregistered extensions).
type ExtensionManager struct {
	entries []extensionEntry
	byIndex []extensionEntry // original registration order, index 0 = default
}

// NewExtensionManager builds a manager from defaultManager (index 0, the
// fallback for unregistered extensions) plus any number of registered
// (extension, compression, manager) triples.
func NewExtensionManager(defaultManager *ResourceUnitManager) *ExtensionManager {
	m := &ExtensionManager{}
	def := extensionEntry{extension: "", manager: defaultManager}
	m.byIndex = append(m.byIndex, def)
	return m
}

// Register adds an (extension, compression-type, manager) entry and
// re-sorts the binary-search table. extension should include the leading
// dot, e.g. ".tex".
func (m *ExtensionManager) Register(extension string, compression CompressionType, manager *ResourceUnitManager) {
	e := extensionEntry{extension: strings.ToLower(extension), compression: compression, manager: manager}
	m.byIndex = append(m.byIndex, e)
	m.entries = append(m.entries, e)
	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].extension < m.entries[j].extension })
}

func (m *ExtensionManager) find(extension string) (extensionEntry, bool) {
	ext := strings.ToLower(extension)
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].extension >= ext })
	if i < len(m.entries) && m.entries[i].extension == ext {
		return m.entries[i], true
	}
	return extensionEntry{}, false
}

// GetCompressionExtension binary-searches the registered table by
// extension string.
func (m *ExtensionManager) GetCompressionExtension(extension string) (CompressionType, bool) {
	e, ok := m.find(extension)
	if !ok {
		return CompressionNone, false
	}
	return e.compression, true
}

// GetResourceUnitManager returns the manager registered for extension, or
// the index-0 default if it is unregistered.
func (m *ExtensionManager) GetResourceUnitManager(extension string) *ResourceUnitManager {
	if e, ok := m.find(extension); ok {
		return e.manager
	}
	return m.byIndex[0].manager
}
