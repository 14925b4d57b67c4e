package index

import (
	"fmt"
	"log/slog"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/processor"
)

// AddField adds a field to the index. The change takes effect for
// indexing right away and is persisted by Save.
func (idx *Index) AddField(f *field.Field) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.addField(f)
}

func (idx *Index) addField(f *field.Field) error {
	if f == nil || f.ID == "" {
		return amanerrors.New(amanerrors.ErrCodeConfigInvalid, "Can't add a field without an ID.", nil)
	}
	if field.IsFieldIDReserved(f.ID) {
		return reservedError(f.ID)
	}
	if existing, ok := idx.fields[f.ID]; ok && existing != f {
		return amanerrors.New(amanerrors.ErrCodeFieldExists,
			fmt.Sprintf("Cannot add field with machine name '%s': machine name is already taken.", f.ID), nil)
	}
	if f.DatasourceID != "" {
		if _, ok := idx.cfg.Datasources[f.DatasourceID]; !ok {
			return amanerrors.Newf(amanerrors.ErrCodeUnknownDatasource,
				"Field '%s' references datasource '%s', which is not enabled on index '%s'.", f.ID, f.DatasourceID, idx.cfg.ID)
		}
	}
	if err := idx.attachDataType(f); err != nil {
		return err
	}
	f.IndexID = idx.cfg.ID
	f.MultiValued = field.IsMultiValuedPath(idx.propertyDefinitions(f.DatasourceID), f.PropertyPath)
	idx.fields[f.ID] = f
	idx.logger.Info("index_field_added", slog.String("field", f.ID), slog.String("type", string(f.Type)))
	return nil
}

// AddFieldFromProperty creates and adds a field for a property path of a
// datasource ("" for datasource-independent properties). An empty fieldID
// is derived from the path; an empty typ uses the default mapping.
func (idx *Index) AddFieldFromProperty(datasourceID, propertyPath, fieldID string, typ field.Type) (*field.Field, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if datasourceID != "" {
		if _, ok := idx.cfg.Datasources[datasourceID]; !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeUnknownDatasource,
				"The datasource with ID '%s' is not enabled on index '%s'.", datasourceID, idx.cfg.ID)
		}
	}
	def, ok := field.RetrieveNestedProperty(idx.propertyDefinitions(datasourceID), propertyPath)
	if !ok {
		return nil, amanerrors.Newf(amanerrors.ErrCodeUnknownField,
			"Could not retrieve property '%s' of datasource '%s'.", propertyPath, datasourceID)
	}
	f, err := idx.helper.CreateFieldFromProperty(idx, def, datasourceID, propertyPath, fieldID, typ)
	if err != nil {
		return nil, err
	}
	if err := idx.addField(f); err != nil {
		return nil, err
	}
	return f, nil
}

// RenameField changes the ID of a field. The backend moves the stored
// data on the next save.
func (idx *Index) RenameField(oldID, newID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, ok := idx.fields[oldID]
	if !ok {
		return amanerrors.Newf(amanerrors.ErrCodeUnknownField, "Could not rename field with machine name '%s': no such field.", oldID)
	}
	if oldID == newID {
		return nil
	}
	if field.IsFieldIDReserved(newID) {
		return reservedError(newID)
	}
	if _, ok := idx.fields[newID]; ok {
		return amanerrors.New(amanerrors.ErrCodeFieldExists,
			fmt.Sprintf("'%s' already exists and can't be used as a new field ID.", newID), nil)
	}

	delete(idx.fields, oldID)
	f.ID = newID
	idx.fields[newID] = f

	// Chained renames collapse onto the ID stored in the backend.
	original := oldID
	for saved, current := range idx.renames {
		if current == oldID {
			original = saved
			break
		}
	}
	if original == newID {
		delete(idx.renames, original)
	} else {
		idx.renames[original] = newID
	}
	idx.logger.Info("index_field_renamed", slog.String("from", oldID), slog.String("to", newID))
	return nil
}

// RemoveField removes a field. Fields locked by a processor cannot be
// removed.
func (idx *Index) RemoveField(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, ok := idx.fields[id]
	if !ok {
		return nil
	}
	if f.IndexedLocked {
		return amanerrors.New(amanerrors.ErrCodeFieldLocked,
			fmt.Sprintf("Cannot remove field with machine name '%s': field is locked.", id), nil)
	}
	delete(idx.fields, id)
	for saved, current := range idx.renames {
		if current == id {
			delete(idx.renames, saved)
		}
	}
	idx.logger.Info("index_field_removed", slog.String("field", id))
	return nil
}

// SetFieldBoost changes the boost of a fulltext field.
func (idx *Index) SetFieldBoost(id string, boost float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, ok := idx.fields[id]
	if !ok {
		return amanerrors.Newf(amanerrors.ErrCodeUnknownField, "Unknown field '%s'.", id)
	}
	if boost < 0 {
		return amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "Boost of field '%s' must not be negative.", id)
	}
	f.Boost = boost
	return nil
}

// SetFieldType changes the type of a field whose type is not locked.
func (idx *Index) SetFieldType(id string, typ field.Type) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, ok := idx.fields[id]
	if !ok {
		return amanerrors.Newf(amanerrors.ErrCodeUnknownField, "Unknown field '%s'.", id)
	}
	if f.TypeLocked && f.Type != typ {
		return amanerrors.New(amanerrors.ErrCodeFieldLocked,
			fmt.Sprintf("The type of field '%s' is locked.", id), nil)
	}
	old := f.Type
	f.Type = typ
	if err := idx.attachDataType(f); err != nil {
		f.Type = old
		_ = idx.attachDataType(f)
		return err
	}
	return nil
}

// EnableProcessor enables a processor or replaces its configuration. The
// chain is rebuilt right away; Save decides whether data is reindexed.
func (idx *Index) EnableProcessor(id string, pc ProcessorConfig) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.processors.Descriptor(id); !ok {
		return amanerrors.New(amanerrors.ErrCodeUnknownProcessor, fmt.Sprintf("unknown processor '%s'", id), nil)
	}
	next := make(map[string]ProcessorConfig, len(idx.cfg.Processors)+1)
	for k, v := range idx.cfg.Processors {
		next[k] = v
	}
	next[id] = pc
	return idx.replaceChain(next)
}

// DisableProcessor disables a processor. Locked processors cannot be
// disabled.
func (idx *Index) DisableProcessor(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	d, ok := idx.processors.Descriptor(id)
	if !ok {
		return amanerrors.New(amanerrors.ErrCodeUnknownProcessor, fmt.Sprintf("unknown processor '%s'", id), nil)
	}
	if d.Locked {
		return amanerrors.New(amanerrors.ErrCodeProcessorLocked,
			fmt.Sprintf("Processor '%s' is locked and cannot be disabled.", id), nil)
	}
	if _, ok := idx.cfg.Processors[id]; !ok {
		return nil
	}
	next := make(map[string]ProcessorConfig, len(idx.cfg.Processors))
	for k, v := range idx.cfg.Processors {
		if k != id {
			next[k] = v
		}
	}
	return idx.replaceChain(next)
}

func (idx *Index) replaceChain(configs map[string]ProcessorConfig) error {
	chain, err := idx.buildChain(configs)
	if err != nil {
		return err
	}
	idx.chain = chain
	idx.cfg.Processors = configs
	idx.resolveMultiValued()
	return nil
}

// ProcessorInfo describes one processor for listings.
type ProcessorInfo struct {
	Descriptor processor.Descriptor
	Enabled    bool
	Weights    map[processor.Stage]int
}

// AvailableProcessors lists every registered processor that can be used on
// this index, with its effective stage weights.
func (idx *Index) AvailableProcessors() []ProcessorInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []ProcessorInfo
	for _, d := range idx.processors.Descriptors() {
		if d.Supports != nil && !d.Supports(idx) {
			continue
		}
		info := ProcessorInfo{Descriptor: d, Weights: make(map[processor.Stage]int, len(d.Stages))}
		for s, w := range d.Stages {
			info.Weights[s] = w
		}
		if e, ok := idx.chain.Get(d.ID); ok {
			info.Enabled = true
			for s := range d.Stages {
				info.Weights[s] = e.Weight(s)
			}
		}
		out = append(out, info)
	}
	return out
}
