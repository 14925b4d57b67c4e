package datasource

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
)

// Object keys set by Documents on every loaded object.
const (
	KeyID           = "id"
	KeyBundle       = "type"
	KeyLangcode     = "langcode"
	KeyTranslations = "translations"
	KeyURL          = "url"
)

// DefaultPageSize is the ItemIDs page size.
const DefaultPageSize = 100

// Document is one source record. Translations override Fields per
// language.
type Document struct {
	ID           string                    `json:"id" yaml:"id"`
	Bundle       string                    `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Langcode     string                    `json:"langcode,omitempty" yaml:"langcode,omitempty"`
	URL          string                    `json:"url,omitempty" yaml:"url,omitempty"`
	Fields       map[string]any            `json:"fields" yaml:"fields"`
	Translations map[string]map[string]any `json:"translations,omitempty" yaml:"translations,omitempty"`
}

// Languages returns the document's languages, original language first.
func (d Document) Languages() []string {
	langs := []string{d.langcode()}
	var extra []string
	for l := range d.Translations {
		if l != d.langcode() {
			extra = append(extra, l)
		}
	}
	sort.Strings(extra)
	return append(langs, extra...)
}

func (d Document) langcode() string {
	if d.Langcode == "" {
		return "und"
	}
	return d.Langcode
}

// DocumentsConfig configures a Documents datasource.
type DocumentsConfig struct {
	ID         string
	Label      string
	Properties map[string]*field.PropertyDefinition
	// Bundles maps bundle IDs to labels.
	Bundles map[string]string
	// URLPattern builds item URLs; {id}, {bundle} and {langcode} are
	// replaced. Used when a document has no URL of its own.
	URLPattern string
	PageSize   int
}

// Documents is an in-memory datasource. Raw IDs are "<id>:<langcode>",
// one per language of a document.
type Documents struct {
	cfg DocumentsConfig

	mu        sync.RWMutex
	docs      map[string]Document
	listeners []Listener
}

var _ Datasource = (*Documents)(nil)

// NewDocuments returns an empty datasource.
func NewDocuments(cfg DocumentsConfig) *Documents {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Label == "" {
		cfg.Label = cfg.ID
	}
	props := make(map[string]*field.PropertyDefinition, len(cfg.Properties)+3)
	for k, v := range cfg.Properties {
		props[k] = v
	}
	if _, ok := props[KeyID]; !ok {
		props[KeyID] = &field.PropertyDefinition{Name: KeyID, Label: "ID", DataType: "string"}
	}
	if _, ok := props[KeyBundle]; !ok {
		props[KeyBundle] = &field.PropertyDefinition{Name: KeyBundle, Label: "Bundle", DataType: "string"}
	}
	if _, ok := props[KeyLangcode]; !ok {
		props[KeyLangcode] = &field.PropertyDefinition{Name: KeyLangcode, Label: "Language", DataType: "language"}
	}
	cfg.Properties = props
	return &Documents{cfg: cfg, docs: make(map[string]Document)}
}

func (d *Documents) ID() string    { return d.cfg.ID }
func (d *Documents) Label() string { return d.cfg.Label }

func (d *Documents) PropertyDefinitions() map[string]*field.PropertyDefinition {
	return d.cfg.Properties
}

// Bundles returns the configured bundles, or the bundles seen in the
// stored documents when none are configured.
func (d *Documents) Bundles() map[string]string {
	if len(d.cfg.Bundles) > 0 {
		return d.cfg.Bundles
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string)
	for _, doc := range d.docs {
		if doc.Bundle != "" {
			out[doc.Bundle] = doc.Bundle
		}
	}
	if len(out) == 0 {
		out[d.cfg.ID] = d.cfg.Label
	}
	return out
}

// Subscribe registers a change listener.
func (d *Documents) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Count returns the number of documents.
func (d *Documents) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

// SplitRawID splits "<id>:<langcode>".
func SplitRawID(rawID string) (id, langcode string) {
	i := strings.LastIndex(rawID, ":")
	if i < 0 {
		return rawID, ""
	}
	return rawID[:i], rawID[i+1:]
}

// Load returns the object of one language variant.
func (d *Documents) Load(_ context.Context, rawID string) (item.Data, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.load(rawID)
	return obj, ok, nil
}

func (d *Documents) load(rawID string) (item.Data, bool) {
	id, lang := SplitRawID(rawID)
	doc, ok := d.docs[id]
	if !ok {
		return item.Data{}, false
	}
	if lang == "" {
		lang = doc.langcode()
	}
	values := make(map[string]any, len(doc.Fields)+5)
	for k, v := range doc.Fields {
		values[k] = v
	}
	if lang != doc.langcode() {
		tr, ok := doc.Translations[lang]
		if !ok {
			return item.Data{}, false
		}
		for k, v := range tr {
			values[k] = v
		}
	}
	values[KeyID] = doc.ID
	values[KeyBundle] = doc.Bundle
	values[KeyLangcode] = lang
	if doc.URL != "" {
		values[KeyURL] = doc.URL
	}
	if len(doc.Translations) > 0 {
		trs := make(map[string]any, len(doc.Translations))
		for l, tr := range doc.Translations {
			trs[l] = tr
		}
		values[KeyTranslations] = trs
	}
	return item.NewObject(d.cfg.Properties, values), true
}

// LoadMultiple returns the existing objects among rawIDs.
func (d *Documents) LoadMultiple(_ context.Context, rawIDs []string) (map[string]item.Data, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]item.Data, len(rawIDs))
	for _, id := range rawIDs {
		if obj, ok := d.load(id); ok {
			out[id] = obj
		}
	}
	return out, nil
}

// ItemIDs pages through all raw IDs in sorted order.
func (d *Documents) ItemIDs(_ context.Context, page int) ([]string, error) {
	d.mu.RLock()
	all := d.rawIDs()
	d.mu.RUnlock()
	start := page * d.cfg.PageSize
	if page < 0 || start >= len(all) {
		return nil, nil
	}
	end := start + d.cfg.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (d *Documents) rawIDs() []string {
	ids := make([]string, 0, len(d.docs))
	for _, doc := range d.docs {
		for _, l := range doc.Languages() {
			ids = append(ids, doc.ID+":"+l)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d *Documents) ItemBundle(obj item.Data) string {
	if b, ok := objectString(obj, KeyBundle); ok && b != "" {
		return b
	}
	return d.cfg.ID
}

func (d *Documents) ItemLanguage(obj item.Data) string {
	if l, ok := objectString(obj, KeyLangcode); ok && l != "" {
		return l
	}
	return "und"
}

func (d *Documents) ItemURL(obj item.Data) (string, bool) {
	if u, ok := objectString(obj, KeyURL); ok && u != "" {
		return u, true
	}
	if d.cfg.URLPattern == "" {
		return "", false
	}
	id, _ := objectString(obj, KeyID)
	return strings.NewReplacer(
		"{id}", id,
		"{bundle}", d.ItemBundle(obj),
		"{langcode}", d.ItemLanguage(obj),
	).Replace(d.cfg.URLPattern), true
}

func objectString(obj item.Data, key string) (string, bool) {
	v, ok := obj.Get(key)
	if !ok || v.Value == nil {
		return "", false
	}
	return fmt.Sprint(v.Value), true
}

// Put inserts or replaces documents and notifies listeners.
func (d *Documents) Put(ctx context.Context, docs ...Document) {
	var inserted, updated, deleted []string
	d.mu.Lock()
	for _, doc := range docs {
		old, existed := d.docs[doc.ID]
		d.docs[doc.ID] = doc
		ins, upd, del := diffDocument(old, existed, doc)
		inserted = append(inserted, ins...)
		updated = append(updated, upd...)
		deleted = append(deleted, del...)
	}
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()
	d.notify(ctx, listeners, inserted, updated, deleted)
}

// Delete removes documents by ID and notifies listeners.
func (d *Documents) Delete(ctx context.Context, ids ...string) {
	var deleted []string
	d.mu.Lock()
	for _, id := range ids {
		doc, ok := d.docs[id]
		if !ok {
			continue
		}
		delete(d.docs, id)
		for _, l := range doc.Languages() {
			deleted = append(deleted, doc.ID+":"+l)
		}
	}
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()
	d.notify(ctx, listeners, nil, nil, deleted)
}

// Replace makes docs the complete content of the datasource. Documents
// missing from docs are deleted, unchanged ones are not reported.
func (d *Documents) Replace(ctx context.Context, docs []Document) {
	var inserted, updated, deleted []string
	d.mu.Lock()
	next := make(map[string]Document, len(docs))
	for _, doc := range docs {
		next[doc.ID] = doc
	}
	for id, old := range d.docs {
		if _, ok := next[id]; !ok {
			for _, l := range old.Languages() {
				deleted = append(deleted, old.ID+":"+l)
			}
		}
	}
	for id, doc := range next {
		old, existed := d.docs[id]
		ins, upd, del := diffDocument(old, existed, doc)
		inserted = append(inserted, ins...)
		updated = append(updated, upd...)
		deleted = append(deleted, del...)
	}
	d.docs = next
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()
	sort.Strings(inserted)
	sort.Strings(updated)
	sort.Strings(deleted)
	d.notify(ctx, listeners, inserted, updated, deleted)
}

func diffDocument(old Document, existed bool, doc Document) (inserted, updated, deleted []string) {
	newLangs := doc.Languages()
	if !existed {
		for _, l := range newLangs {
			inserted = append(inserted, doc.ID+":"+l)
		}
		return inserted, nil, nil
	}
	unchanged := reflect.DeepEqual(old, doc)
	oldLangs := make(map[string]bool)
	for _, l := range old.Languages() {
		oldLangs[l] = true
	}
	for _, l := range newLangs {
		switch {
		case !oldLangs[l]:
			inserted = append(inserted, doc.ID+":"+l)
		case !unchanged:
			updated = append(updated, doc.ID+":"+l)
		}
		delete(oldLangs, l)
	}
	for l := range oldLangs {
		deleted = append(deleted, doc.ID+":"+l)
	}
	sort.Strings(deleted)
	return inserted, updated, deleted
}

func (d *Documents) notify(ctx context.Context, listeners []Listener, inserted, updated, deleted []string) {
	for _, l := range listeners {
		if len(inserted) > 0 {
			l(ctx, Change{DatasourceID: d.cfg.ID, Kind: Inserted, RawIDs: inserted})
		}
		if len(updated) > 0 {
			l(ctx, Change{DatasourceID: d.cfg.ID, Kind: Updated, RawIDs: updated})
		}
		if len(deleted) > 0 {
			l(ctx, Change{DatasourceID: d.cfg.ID, Kind: Deleted, RawIDs: deleted})
		}
	}
}
