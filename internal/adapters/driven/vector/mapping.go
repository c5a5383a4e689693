package vector

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tabsense/tabsense/internal/core/domain"
)

// The mapping blob is JSON with tuple-shaped entries:
//
//	{"documents": [[label, doc], ...],
//	 "sourceDocuments": [[sourceId, [labels]], ...],
//	 "nextLabel": n}
//
// Entries are sorted on write so the blob is deterministic for a given state.

type mappingFile struct {
	Documents       []docPair    `json:"documents"`
	SourceDocuments []sourcePair `json:"sourceDocuments"`
	NextLabel       uint64       `json:"nextLabel"`
}

type docPair struct {
	Label    uint64
	Document domain.VectorDocument
}

func (p docPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Label, p.Document})
}

func (p *docPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.Label); err != nil {
		return fmt.Errorf("document label: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Document); err != nil {
		return fmt.Errorf("document %d: %w", p.Label, err)
	}
	return nil
}

type sourcePair struct {
	SourceID string
	Labels   []uint64
}

func (p sourcePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.SourceID, p.Labels})
}

func (p *sourcePair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.SourceID); err != nil {
		return fmt.Errorf("source id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Labels); err != nil {
		return fmt.Errorf("source %q labels: %w", p.SourceID, err)
	}
	return nil
}

// mappingState is the decoded in-memory form.
type mappingState struct {
	docs       map[uint64]domain.VectorDocument
	sourceDocs map[string]map[uint64]struct{}
	nextLabel  uint64
}

func encodeMapping(docs map[uint64]domain.VectorDocument, sourceDocs map[string]map[uint64]struct{}, nextLabel uint64) ([]byte, error) {
	file := mappingFile{
		Documents:       make([]docPair, 0, len(docs)),
		SourceDocuments: make([]sourcePair, 0, len(sourceDocs)),
		NextLabel:       nextLabel,
	}

	for label, doc := range docs {
		file.Documents = append(file.Documents, docPair{Label: label, Document: doc})
	}
	sort.Slice(file.Documents, func(i, j int) bool {
		return file.Documents[i].Label < file.Documents[j].Label
	})

	for sourceID, set := range sourceDocs {
		labels := make([]uint64, 0, len(set))
		for label := range set {
			labels = append(labels, label)
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
		file.SourceDocuments = append(file.SourceDocuments, sourcePair{SourceID: sourceID, Labels: labels})
	}
	sort.Slice(file.SourceDocuments, func(i, j int) bool {
		return file.SourceDocuments[i].SourceID < file.SourceDocuments[j].SourceID
	})

	return json.Marshal(file)
}

func decodeMapping(payload []byte) (mappingState, error) {
	var file mappingFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return mappingState{}, err
	}

	state := mappingState{
		docs:       make(map[uint64]domain.VectorDocument, len(file.Documents)),
		sourceDocs: make(map[string]map[uint64]struct{}, len(file.SourceDocuments)),
		nextLabel:  file.NextLabel,
	}
	for _, pair := range file.Documents {
		state.docs[pair.Label] = pair.Document
	}
	for _, pair := range file.SourceDocuments {
		set := make(map[uint64]struct{}, len(pair.Labels))
		for _, label := range pair.Labels {
			set[label] = struct{}{}
		}
		state.sourceDocs[pair.SourceID] = set
	}

	// A stale counter would reuse labels still present in the graph.
	for label := range state.docs {
		if label >= state.nextLabel {
			state.nextLabel = label + 1
		}
	}
	return state, nil
}
